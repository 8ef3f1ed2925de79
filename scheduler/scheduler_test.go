package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCoversTotalExactly(t *testing.T) {
	band := Band{Min: 5, Max: 8}
	for _, total := range []float64{9, 13.7, 34, 61, 120, 187.5, 240} {
		slots, err := Plan(total, band)
		require.NoError(t, err)
		require.NotEmpty(t, slots)

		sum := 0.0
		for i, s := range slots {
			assert.Equal(t, i, s.Index)
			assert.InDelta(t, sum, s.Start, 1e-9, "scenes must be contiguous")
			sum += s.Duration
		}
		assert.InDelta(t, total, sum, 1e-9, "durations must sum to total for T=%v", total)

		// 除最后一个场景外都必须落在区间内
		for _, s := range slots[:len(slots)-1] {
			assert.GreaterOrEqual(t, s.Duration, band.Min)
			assert.LessOrEqual(t, s.Duration, band.Max)
		}
	}
}

func TestPlanScenarioA(t *testing.T) {
	// T = 34s, band [5,8] -> 5 个场景，每个约 6.8s
	slots, err := Plan(34, Band{Min: 5, Max: 8})
	require.NoError(t, err)
	require.Len(t, slots, 5)

	for _, s := range slots {
		assert.InDelta(t, 6.8, s.Duration, 1e-9)
	}
	assert.InDelta(t, 34, Total(slots), 1e-9)
}

func TestPlanDeterministic(t *testing.T) {
	a, err := Plan(187.3, Band{Min: 5, Max: 8})
	require.NoError(t, err)
	b, err := Plan(187.3, Band{Min: 5, Max: 8})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlanShortTrackSingleScene(t *testing.T) {
	// 总时长不足一个场景时只排一个场景，时长越界由末场景豁免规则覆盖
	slots, err := Plan(3, Band{Min: 5, Max: 8})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.InDelta(t, 3.0, slots[0].Duration, 1e-9)
}

func TestPlanLastSceneAbsorbsRemainder(t *testing.T) {
	// 9s: n=round(9/6.5)=1，单场景 9s 超出上限但允许
	slots, err := Plan(9, Band{Min: 5, Max: 8})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.InDelta(t, 9.0, slots[0].Duration, 1e-9)
}

func TestPlanInvalidInput(t *testing.T) {
	cases := []struct {
		total float64
		band  Band
	}{
		{0, Band{Min: 5, Max: 8}},
		{-10, Band{Min: 5, Max: 8}},
		{60, Band{Min: 8, Max: 5}},
		{60, Band{Min: 0, Max: 8}},
		{60, Band{Min: -1, Max: 8}},
	}
	for _, c := range cases {
		_, err := Plan(c.total, c.band)
		var ide *InvalidDurationError
		require.ErrorAs(t, err, &ide, "total=%v band=%+v", c.total, c.band)
	}
}
