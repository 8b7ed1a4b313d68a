package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/calmmind/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Store, convey.ShouldEqual, "memory")
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
				convey.So(cfg.Risk.Bias, convey.ShouldEqual, -1.0)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CALMMIND_ADDR", ":8080")
			_ = os.Setenv("CALMMIND_STORE", "sqlite")
			_ = os.Setenv("CALMMIND_AUDIT_QUEUE_SIZE", "42")
			_ = os.Setenv("CALMMIND_AUDIT_MEMORY_LIMIT", "500")
			_ = os.Setenv("CALMMIND_TRACING", "true")
			_ = os.Setenv("CALMMIND_TUNING_URL", "http://tuning.internal/tuning")
			_ = os.Setenv("CALMMIND_RISK_RISK_THRESHOLD", "0.55")
			_ = os.Setenv("CALMMIND_RISK_BIAS", "-0.5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Store, convey.ShouldEqual, "sqlite")
				convey.So(cfg.AuditQueueSize, convey.ShouldEqual, 42)
				convey.So(cfg.AuditMemoryLimit, convey.ShouldEqual, 500)
				convey.So(cfg.Tracing, convey.ShouldBeTrue)
				convey.So(cfg.TuningURL, convey.ShouldEqual, "http://tuning.internal/tuning")
				convey.So(cfg.Risk.RiskThreshold, convey.ShouldEqual, 0.55)
				convey.So(cfg.Risk.Bias, convey.ShouldEqual, -0.5)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
store: redis
redis_addr: "cache:6379"
max_commit_retries: 8
risk:
  bias: -2
  risk_threshold: 0.6
  weights:
    screenMinutes: 0.5
`)
			_ = os.Setenv("CALMMIND_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, "redis")
				convey.So(cfg.RedisAddr, convey.ShouldEqual, "cache:6379")
				convey.So(cfg.MaxCommitRetries, convey.ShouldEqual, 8)
				convey.So(cfg.Risk.Bias, convey.ShouldEqual, -2.0)
				convey.So(cfg.Risk.RiskThreshold, convey.ShouldEqual, 0.6)
				convey.So(cfg.Risk.Weights["screenMinutes"], convey.ShouldEqual, 0.5)
			})
		})

		convey.Convey("When both a file and env vars are present", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
audit_workers: 3
`)
			_ = os.Setenv("CALMMIND_CONFIG", tmpFile)
			_ = os.Setenv("CALMMIND_ADDR", ":8080")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars win over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.AuditWorkers, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the file is given as an option", func() {
			tmpFile := createTempConfigFile(t, `addr: ":7070"`)
			_ = os.Setenv("CALMMIND_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx, config.WithFile(tmpFile))

			convey.Convey("Then it takes precedence over CALMMIND_CONFIG", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
			})
		})

		convey.Convey("When loading config with an invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("CALMMIND_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-existent file", func() {
			_ = os.Setenv("CALMMIND_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("CALMMIND_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown store", func() {
			_ = os.Setenv("CALMMIND_STORE", "etcd")

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calmmind.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, "CALMMIND_") {
			_ = os.Unsetenv(key)
		}
	}
}
