package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/db"
	"github.com/MusicMeister52/hunter2-sub000/internal/jobs/worker"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/envutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
)

type Config struct {
	LogMode        string        `yaml:"log_mode"`
	HTTPAddr       string        `yaml:"http_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	JWTSecretKey string `yaml:"jwt_secret_key"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`

	GuessMinInterval      time.Duration `yaml:"guess_min_interval"`
	GuessMaxLength        int           `yaml:"guess_max_length"`
	ReevaluateConcurrency int           `yaml:"reevaluate_concurrency"`
	ScriptTimeout         time.Duration `yaml:"validator_script_timeout"`
	ExternalTimeout       time.Duration `yaml:"validator_external_timeout"`
	HubQueueSize          int           `yaml:"hub_queue_size"`

	DB     db.Config     `yaml:"db"`
	Worker worker.Config `yaml:"worker"`
}

// LoadConfig reads the environment, then applies CONFIG_FILE on top when it
// is set. Keys missing from the file keep their environment value.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		LogMode:        envutil.String("LOG_MODE", "development"),
		HTTPAddr:       envutil.String("HTTP_ADDR", ":8080"),
		MetricsAddr:    envutil.String("METRICS_ADDR", ""),
		ShutdownGrace:  envutil.Duration("SHUTDOWN_GRACE", 10*time.Second),
		AllowedOrigins: splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),

		ServiceName: envutil.String("OTEL_SERVICE_NAME", "hunter2"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		JWTSecretKey: envutil.String("JWT_SECRET_KEY", ""),

		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_CHANNEL", ""),

		GuessMinInterval:      envutil.Duration("GUESS_MIN_INTERVAL", services.DefaultGuessMinInterval),
		GuessMaxLength:        envutil.Int("GUESS_MAX_LENGTH", services.DefaultGuessMaxLength),
		ReevaluateConcurrency: envutil.Int("REEVALUATE_CONCURRENCY", 4),
		ScriptTimeout:         envutil.Duration("VALIDATOR_SCRIPT_TIMEOUT", 2*time.Second),
		ExternalTimeout:       envutil.Duration("VALIDATOR_EXTERNAL_TIMEOUT", 5*time.Second),
		HubQueueSize:          envutil.Int("HUB_QUEUE_SIZE", 0),

		DB:     db.ConfigFromEnv(),
		Worker: worker.ConfigFromEnv(),
	}

	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if log != nil {
			log.Info("config file applied", "path", path)
		}
	}

	if strings.TrimSpace(cfg.JWTSecretKey) == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
