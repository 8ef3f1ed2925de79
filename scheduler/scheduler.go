package scheduler

import (
	"fmt"
	"math"
)

// Band 单个场景时长允许的区间（秒）
type Band struct {
	Min float64
	Max float64
}

// Slot 排定后的一个场景段，Index 从 0 起连续，Start 为在整条时间线上的偏移
type Slot struct {
	Index    int
	Start    float64
	Duration float64
}

// InvalidDurationError 调度输入非法（总时长或区间不合法）
type InvalidDurationError struct {
	Total float64
	Band  Band
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("invalid schedule input: total=%.3fs band=[%.3f, %.3f]", e.Total, e.Band.Min, e.Band.Max)
}

// Plan 根据音乐总时长 total 与场景时长区间 band 排定场景表。
// 规则（确定性）:
//  1. n = round(total / 区间中点)，至少 1 个场景
//  2. 每个场景取 total/n 并收敛到 [Min, Max]
//  3. 收敛产生的余量全部并入最后一个场景，
//     因此只有最后一个场景允许超出区间
//
// 所有场景时长之和严格等于 total，场景之间无空隙。
// 纯函数，无 I/O，不并发。
func Plan(total float64, band Band) ([]Slot, error) {
	if total <= 0 || band.Min <= 0 || band.Min > band.Max {
		return nil, &InvalidDurationError{Total: total, Band: band}
	}

	target := (band.Min + band.Max) / 2
	n := int(math.Round(total / target))
	if n < 1 {
		n = 1
	}

	per := total / float64(n)
	if per < band.Min {
		per = band.Min
	} else if per > band.Max {
		per = band.Max
	}

	slots := make([]Slot, n)
	start := 0.0
	for i := 0; i < n-1; i++ {
		slots[i] = Slot{Index: i, Start: start, Duration: per}
		start += per
	}
	// 最后一个场景吸收全部余量
	slots[n-1] = Slot{Index: n - 1, Start: start, Duration: total - start}
	return slots, nil
}

// Total 便捷函数：场景表覆盖的总时长
func Total(slots []Slot) float64 {
	if len(slots) == 0 {
		return 0
	}
	last := slots[len(slots)-1]
	return last.Start + last.Duration
}
