package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`

	// 各生成服务的凭证与地址
	Providers struct {
		PiAPI struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"piapi"`
		Gemini struct {
			APIKey     string `yaml:"api_key"`
			ImageModel string `yaml:"image_model"`
			VideoModel string `yaml:"video_model"`
		} `yaml:"gemini"`
		FishAudio struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
			Voice   string `yaml:"voice"`
		} `yaml:"fish_audio"`
		Worker struct {
			Addr string `yaml:"addr"`
		} `yaml:"worker"`
	} `yaml:"providers"`

	// 流水线调度参数
	Pipeline struct {
		SceneMinSeconds float64 `yaml:"scene_min_seconds"`
		SceneMaxSeconds float64 `yaml:"scene_max_seconds"`
		Concurrency     int     `yaml:"concurrency"`
		MaxAttempts     int     `yaml:"max_attempts"`
		// 每种模态的轮询间隔与单任务超时
		ImagePollSeconds      int `yaml:"image_poll_seconds"`
		VideoPollSeconds      int `yaml:"video_poll_seconds"`
		SpeechPollSeconds     int `yaml:"speech_poll_seconds"`
		ImageTimeoutMinutes   int `yaml:"image_timeout_minutes"`
		VideoTimeoutMinutes   int `yaml:"video_timeout_minutes"`
		SpeechTimeoutMinutes  int `yaml:"speech_timeout_minutes"`
		ProjectTimeoutMinutes int `yaml:"project_timeout_minutes"`
		// 降级策略: true = 任一场景失败立即终止项目
		FailFast bool `yaml:"fail_fast"`
		// 每种模态的提供商回退顺序（固定优先级，不做负载选择）
		ImageChain  []string `yaml:"image_chain"`
		VideoChain  []string `yaml:"video_chain"`
		SpeechChain []string `yaml:"speech_chain"`
	} `yaml:"pipeline"`

	FFmpeg struct {
		Binary  string `yaml:"binary"`
		WorkDir string `yaml:"work_dir"`
	} `yaml:"ffmpeg"`
}

var AppConfig *Config

func InitConfig() {
	f, err := os.Open("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}
	applyDefaults(AppConfig)
}

// applyDefaults 填充未配置项的默认值
func applyDefaults(c *Config) {
	p := &c.Pipeline
	if p.SceneMinSeconds <= 0 {
		p.SceneMinSeconds = 5
	}
	if p.SceneMaxSeconds <= 0 {
		p.SceneMaxSeconds = 8
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.ImagePollSeconds <= 0 {
		p.ImagePollSeconds = 3
	}
	if p.VideoPollSeconds <= 0 {
		p.VideoPollSeconds = 5
	}
	if p.SpeechPollSeconds <= 0 {
		p.SpeechPollSeconds = 2
	}
	if p.ImageTimeoutMinutes <= 0 {
		p.ImageTimeoutMinutes = 10
	}
	if p.VideoTimeoutMinutes <= 0 {
		// 视频生成显著慢于图片
		p.VideoTimeoutMinutes = 30
	}
	if p.SpeechTimeoutMinutes <= 0 {
		p.SpeechTimeoutMinutes = 5
	}
	if p.ProjectTimeoutMinutes <= 0 {
		p.ProjectTimeoutMinutes = 120
	}
	if len(p.ImageChain) == 0 {
		p.ImageChain = []string{"piapi", "gemini", "worker"}
	}
	if len(p.VideoChain) == 0 {
		p.VideoChain = []string{"piapi", "gemini", "worker"}
	}
	if len(p.SpeechChain) == 0 {
		p.SpeechChain = []string{"fish_audio", "worker"}
	}
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = "ffmpeg"
	}
	if c.FFmpeg.WorkDir == "" {
		c.FFmpeg.WorkDir = os.TempDir()
	}
}
