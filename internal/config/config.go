package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	APIRateLimit   int           `yaml:"api_rate_limit"` // requests per minute per user
	AdminSecret    string        `yaml:"admin_secret"`
	AdminTokenTTL  time.Duration `yaml:"admin_token_ttl"`
	EnableStream   *bool         `yaml:"enable_stream"`
	Keepalive      time.Duration `yaml:"keepalive"`
	UploadDir      string        `yaml:"upload_dir"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
}

// StreamEnabled defaults to true when the key is absent.
func (h HTTPConfig) StreamEnabled() bool {
	return h.EnableStream == nil || *h.EnableStream
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`

	// Retention deletes stored results older than this. Zero keeps them.
	Retention time.Duration `yaml:"retention"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	DefaultModel    string `yaml:"default_model"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent generation calls
	ContextTokens   int    `yaml:"context_tokens"`
}

type TranscriberConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	InitialPrompt string        `yaml:"initial_prompt"`
}

type MediaConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	TempDir string `yaml:"temp_dir"`
}

type PipelineConfig struct {
	ChunkDuration          time.Duration `yaml:"chunk_duration"`
	ChunkOverlap           time.Duration `yaml:"chunk_overlap"`
	MaxSpeakers            int           `yaml:"max_speakers"`
	SpeakerChangeThreshold time.Duration `yaml:"speaker_change_threshold"`
	AllowedLanguages       []string      `yaml:"allowed_languages"`
}

type SummaryConfig struct {
	OptimalChars int `yaml:"optimal_chars"`
	MaxChars     int `yaml:"max_chars"`
	MinChars     int `yaml:"min_chars"`
}

type ProgressConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	UploadMaxAge  time.Duration `yaml:"upload_max_age"`
}

type GovernorConfig struct {
	MemoryWarningMB    int           `yaml:"memory_warning_mb"`
	MemoryCriticalMB   int           `yaml:"memory_critical_mb"`
	MaxFileMB          int           `yaml:"max_file_mb"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
	BasicRate          int           `yaml:"basic_rate"`   // uploads per minute
	PremiumRate        int           `yaml:"premium_rate"` // uploads per minute
	PremiumUsers       []string      `yaml:"premium_users"`
}

type WorkerConfig struct {
	Workers          int           `yaml:"workers"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	SoftTimeLimit    time.Duration `yaml:"soft_time_limit"`
	HardTimeLimit    time.Duration `yaml:"hard_time_limit"`
	ResultTTL        time.Duration `yaml:"result_ttl"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	AdmissionBackoff time.Duration `yaml:"admission_backoff"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	AI          AIConfig          `yaml:"ai"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Media       MediaConfig       `yaml:"media"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Summary     SummaryConfig     `yaml:"summary"`
	Progress    ProgressConfig    `yaml:"progress"`
	Governor    GovernorConfig    `yaml:"governor"`
	Worker      WorkerConfig      `yaml:"worker"`
	Security    SecurityConfig    `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = orDuration(cfg.HTTP.RequestTimeout, 30*time.Second)
	if cfg.HTTP.APIRateLimit <= 0 {
		cfg.HTTP.APIRateLimit = 100
	}
	cfg.HTTP.AdminTokenTTL = orDuration(cfg.HTTP.AdminTokenTTL, 30*time.Minute)
	cfg.HTTP.Keepalive = orDuration(cfg.HTTP.Keepalive, 30*time.Second)
	if cfg.HTTP.UploadDir == "" {
		cfg.HTTP.UploadDir = os.TempDir()
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		cfg.HTTP.MaxUploadMB = 200
	}

	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 2
	}
	if cfg.AI.ContextTokens <= 0 {
		cfg.AI.ContextTokens = 8192
	}

	if cfg.Transcriber.Model == "" {
		cfg.Transcriber.Model = "whisper-1"
	}
	cfg.Transcriber.Timeout = orDuration(cfg.Transcriber.Timeout, 5*time.Minute)

	if cfg.Media.FFmpeg == "" {
		cfg.Media.FFmpeg = "ffmpeg"
	}
	if cfg.Media.FFprobe == "" {
		cfg.Media.FFprobe = "ffprobe"
	}
	if cfg.Media.TempDir == "" {
		cfg.Media.TempDir = os.TempDir()
	}

	cfg.Pipeline.ChunkDuration = orDuration(cfg.Pipeline.ChunkDuration, 45*time.Second)
	cfg.Pipeline.ChunkOverlap = orDuration(cfg.Pipeline.ChunkOverlap, 8*time.Second)
	if cfg.Pipeline.MaxSpeakers <= 0 {
		cfg.Pipeline.MaxSpeakers = 6
	}
	cfg.Pipeline.SpeakerChangeThreshold = orDuration(cfg.Pipeline.SpeakerChangeThreshold, 800*time.Millisecond)
	if len(cfg.Pipeline.AllowedLanguages) == 0 {
		cfg.Pipeline.AllowedLanguages = []string{"auto", "en", "tr"}
	}

	if cfg.Summary.OptimalChars <= 0 {
		cfg.Summary.OptimalChars = 4000
	}
	if cfg.Summary.MaxChars <= 0 {
		cfg.Summary.MaxChars = 6000
	}
	if cfg.Summary.MinChars <= 0 {
		cfg.Summary.MinChars = 1500
	}

	cfg.Progress.TTL = orDuration(cfg.Progress.TTL, 24*time.Hour)
	cfg.Progress.SweepInterval = orDuration(cfg.Progress.SweepInterval, 10*time.Minute)
	cfg.Progress.UploadMaxAge = orDuration(cfg.Progress.UploadMaxAge, 6*time.Hour)

	if cfg.Governor.MemoryWarningMB <= 0 {
		cfg.Governor.MemoryWarningMB = 12000
	}
	if cfg.Governor.MemoryCriticalMB <= 0 {
		cfg.Governor.MemoryCriticalMB = 14000
	}
	if cfg.Governor.MaxFileMB <= 0 {
		cfg.Governor.MaxFileMB = 100
	}
	cfg.Governor.MonitorInterval = orDuration(cfg.Governor.MonitorInterval, 30*time.Second)
	cfg.Governor.MinRequestInterval = orDuration(cfg.Governor.MinRequestInterval, 10*time.Second)
	if cfg.Governor.BasicRate <= 0 {
		cfg.Governor.BasicRate = 2
	}
	if cfg.Governor.PremiumRate <= 0 {
		cfg.Governor.PremiumRate = 4
	}

	if cfg.Worker.Workers <= 0 {
		cfg.Worker.Workers = 2
	}
	if cfg.Worker.MaxRetries < 0 {
		cfg.Worker.MaxRetries = 0
	} else if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 2
	}
	cfg.Worker.RetryBaseDelay = orDuration(cfg.Worker.RetryBaseDelay, 10*time.Minute)
	cfg.Worker.RetryMaxDelay = orDuration(cfg.Worker.RetryMaxDelay, 40*time.Minute)
	cfg.Worker.SoftTimeLimit = orDuration(cfg.Worker.SoftTimeLimit, 30*time.Minute)
	cfg.Worker.HardTimeLimit = orDuration(cfg.Worker.HardTimeLimit, 35*time.Minute)
	cfg.Worker.ResultTTL = orDuration(cfg.Worker.ResultTTL, time.Hour)
	cfg.Worker.PollTimeout = orDuration(cfg.Worker.PollTimeout, time.Second)
	cfg.Worker.AdmissionBackoff = orDuration(cfg.Worker.AdmissionBackoff, 5*time.Second)
}

func (cfg *Config) validate() error {
	if cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkDuration {
		return errors.New("pipeline.chunk_overlap must be shorter than pipeline.chunk_duration")
	}
	if cfg.Governor.MemoryWarningMB >= cfg.Governor.MemoryCriticalMB {
		return errors.New("governor.memory_warning_mb must be below governor.memory_critical_mb")
	}
	if cfg.Summary.MinChars > cfg.Summary.OptimalChars || cfg.Summary.OptimalChars > cfg.Summary.MaxChars {
		return errors.New("summary: min_chars <= optimal_chars <= max_chars is required")
	}
	if cfg.Worker.SoftTimeLimit > cfg.Worker.HardTimeLimit {
		return errors.New("worker.soft_time_limit must not exceed worker.hard_time_limit")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
