package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	AudioDir string `env:"AUDIO_DIR" envDefault:"./uploads"`

	// ASR. Mode "exec" runs ASRCommand as a timeboxed subprocess; mode
	// "http" posts to an OpenAI-compatible transcription endpoint.
	ASRMode          string        `env:"ASR_MODE" envDefault:"exec"`
	ASRCommand       string        `env:"ASR_COMMAND" envDefault:"python3 whisperx/transcribe.py"`
	ASRURL           string        `env:"ASR_URL" envDefault:"http://localhost:9000/v1/audio/transcriptions"`
	ASRModel         string        `env:"ASR_MODEL" envDefault:"medium"`
	ASRFallbackModel string        `env:"ASR_FALLBACK_MODEL" envDefault:"base"`
	ASRTimeout       time.Duration `env:"ASR_TIMEOUT" envDefault:"90s"`
	ASRBatchTimeout  time.Duration `env:"ASR_BATCH_TIMEOUT" envDefault:"3m"`
	ASRLanguage      string        `env:"ASR_LANGUAGE" envDefault:"en"`

	// LLM grader (OpenRouter-compatible chat completions).
	GraderBaseURL string        `env:"GRADER_API_BASE" envDefault:"https://openrouter.ai/api/v1"`
	GraderAPIKey  string        `env:"GRADER_API_KEY"`
	GraderModel   string        `env:"GRADER_MODEL" envDefault:"openai/gpt-4o-mini"`
	GraderTimeout time.Duration `env:"GRADER_TIMEOUT" envDefault:"30s"`

	// Training capture for the secondary fine-tuned grader.
	TrainCommand   string `env:"TRAIN_COMMAND"`
	TrainThreshold int    `env:"TRAIN_THRESHOLD" envDefault:"10"`

	Workers          int `env:"WORKER_COUNT" envDefault:"1"`
	QueueSize        int `env:"WORKER_QUEUE_SIZE" envDefault:"256"`
	ReprocessBatch   int `env:"REPROCESS_BATCH_SIZE" envDefault:"3"`
	RoundsPerSession int `env:"ROUNDS_PER_SESSION" envDefault:"10"`

	// S3 backup for uploaded audio (optional; local-only when unset).
	S3Bucket        string        `env:"S3_BUCKET"`
	S3Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string        `env:"S3_ENDPOINT"`
	S3AccessKey     string        `env:"S3_ACCESS_KEY"`
	S3SecretKey     string        `env:"S3_SECRET_KEY"`
	S3Prefix        string        `env:"S3_PREFIX"`
	S3PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"15m"`
}

// S3Enabled reports whether the S3 backup tier is configured.
func (c *Config) S3Enabled() bool { return c.S3Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	AudioDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}

	return cfg, nil
}
