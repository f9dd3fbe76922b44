package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.AudioDir != "./uploads" {
			t.Errorf("AudioDir = %q, want ./uploads", cfg.AudioDir)
		}
		if cfg.ASRMode != "exec" {
			t.Errorf("ASRMode = %q, want exec", cfg.ASRMode)
		}
		if cfg.ASRModel != "medium" || cfg.ASRFallbackModel != "base" {
			t.Errorf("ASR models = %q/%q, want medium/base", cfg.ASRModel, cfg.ASRFallbackModel)
		}
		if cfg.ASRBatchTimeout != 3*time.Minute {
			t.Errorf("ASRBatchTimeout = %v, want 3m", cfg.ASRBatchTimeout)
		}
		if cfg.TrainThreshold != 10 {
			t.Errorf("TrainThreshold = %d, want 10", cfg.TrainThreshold)
		}
		if cfg.RoundsPerSession != 10 {
			t.Errorf("RoundsPerSession = %d, want 10", cfg.RoundsPerSession)
		}
		if cfg.ReprocessBatch != 3 {
			t.Errorf("ReprocessBatch = %d, want 3", cfg.ReprocessBatch)
		}
		if cfg.S3Enabled() {
			t.Error("S3Enabled = true without S3_BUCKET")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			AudioDir:    "/tmp/uploads",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.AudioDir != "/tmp/uploads" {
			t.Errorf("AudioDir = %q, want /tmp/uploads", cfg.AudioDir)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"DATABASE_URL": ""})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	var unset []string

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
