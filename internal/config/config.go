// Package config собирает конфигурацию планировщика.
//
// Источники по убыванию приоритета: флаги командной строки, переменные
// окружения, файл конфигурации (CONFIG_FILE, YAML), значения по умолчанию.
// Переменная окружения ключа — его имя в верхнем регистре (db_url → DB_URL),
// кроме параметров планировщика с префиксом PIPELINES_ (см. envNames).
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/mq"
	"github.com/shaiso/Pipelines/internal/pipelines"
	"github.com/shaiso/Pipelines/internal/repo"
	"github.com/shaiso/Pipelines/internal/scheduler"
)

// ErrInvalidValue — значение параметра не удалось разобрать.
var ErrInvalidValue = errors.New("invalid config value")

// Ключи конфигурации.
const (
	KeyConfigFile         = "config_file"
	KeyDatabaseURL        = "db_url"
	KeyRabbitMQURL        = "rabbitmq_url"
	KeyRedisURL           = "redis_url"
	KeyLockBackend        = "lock_backend"
	KeyRetryInterval      = "retry_interval"
	KeyDefaultConcurrency = "default_concurrency"
	KeySkippedSatisfies   = "skipped_satisfies"
	KeyClassLimits        = "class_limits"
	KeySweepSchedule      = "sweep_schedule"
	KeyPort               = "sched_port"
)

// LockBackend — реализация блокировки pipeline run.
type LockBackend string

const (
	LockBackendPostgres LockBackend = "postgres"
	LockBackendRedis    LockBackend = "redis"
	LockBackendLocal    LockBackend = "local"
)

// Config — конфигурация сервиса и CLI.
type Config struct {
	DatabaseURL string
	RabbitMQURL string
	RedisURL    string
	LockBackend LockBackend

	// RetryInterval — задержка повторного вызова цикла допуска.
	RetryInterval time.Duration

	// DefaultConcurrency — бюджет допуска, если pipeline его не задаёт.
	DefaultConcurrency int

	// SkippedSatisfies — SKIPPED upstream разрешает допуск downstream.
	SkippedSatisfies bool

	// ClassLimits — потолок SCHEDULED/RUNNING operation runs по классу.
	ClassLimits map[string]int

	// SweepSchedule — cron-расписание sweeper.
	SweepSchedule string

	// Port — адрес HTTP сервера /healthz и /metrics (":8081").
	Port string
}

// SatisfiedStatuses возвращает статусы upstream, разрешающие допуск.
func (c *Config) SatisfiedStatuses() []domain.OperationStatus {
	statuses := []domain.OperationStatus{domain.OperationStatusSucceeded}
	if c.SkippedSatisfies {
		statuses = append(statuses, domain.OperationStatusSkipped)
	}
	return statuses
}

// envNames — ключи с нестандартным именем переменной окружения.
var envNames = map[string]string{
	KeyRetryInterval:      "PIPELINES_RETRY_INTERVAL",
	KeyDefaultConcurrency: "PIPELINES_DEFAULT_CONCURRENCY",
	KeySkippedSatisfies:   "PIPELINES_SKIPPED_SATISFIES",
}

// flags — ключи, которые можно задать флагом.
var flags = map[string]string{
	KeyConfigFile:  "config",
	KeyDatabaseURL: "db-url",
	KeyRabbitMQURL: "rabbitmq-url",
	KeyRedisURL:    "redis-url",
	KeyLockBackend: "lock-backend",
}

// AddFlags регистрирует флаги подключения.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(flags[KeyConfigFile], "", "path to YAML config file")
	fs.String(flags[KeyDatabaseURL], repo.DefaultDSN, "PostgreSQL DSN")
	fs.String(flags[KeyRabbitMQURL], mq.DefaultURL, "RabbitMQ URL")
	fs.String(flags[KeyRedisURL], "", "Redis URL for the redis lock backend")
	fs.String(flags[KeyLockBackend], string(LockBackendPostgres), "lock backend: postgres|redis|local")
}

// NewViper создаёт viper с умолчаниями, окружением, файлом и флагами fs.
// fs может быть nil.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(KeyDatabaseURL, repo.DefaultDSN)
	v.SetDefault(KeyRabbitMQURL, mq.DefaultURL)
	v.SetDefault(KeyLockBackend, string(LockBackendPostgres))
	v.SetDefault(KeyRetryInterval, pipelines.DefaultRetryInterval.String())
	v.SetDefault(KeyDefaultConcurrency, strconv.Itoa(pipelines.DefaultConcurrency))
	v.SetDefault(KeySkippedSatisfies, "true")
	v.SetDefault(KeySweepSchedule, scheduler.DefaultSchedule)
	v.SetDefault(KeyPort, "8081")

	v.AutomaticEnv()
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if fs != nil {
		for key, name := range flags {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return v, nil
}

// Load читает конфигурацию из флагов fs, окружения и файла.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v, err := NewViper(fs)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper разбирает и проверяет значения.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL:   v.GetString(KeyDatabaseURL),
		RabbitMQURL:   v.GetString(KeyRabbitMQURL),
		RedisURL:      v.GetString(KeyRedisURL),
		LockBackend:   LockBackend(strings.ToLower(v.GetString(KeyLockBackend))),
		SweepSchedule: v.GetString(KeySweepSchedule),
		Port:          port(v.GetString(KeyPort)),
	}

	var err error

	switch cfg.LockBackend {
	case LockBackendPostgres, LockBackendLocal:
	case LockBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("%w: %s: redis backend requires %s", ErrInvalidValue, KeyLockBackend, KeyRedisURL)
		}
	default:
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, KeyLockBackend, cfg.LockBackend)
	}

	if cfg.RetryInterval, err = time.ParseDuration(v.GetString(KeyRetryInterval)); err != nil || cfg.RetryInterval <= 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, KeyRetryInterval, v.GetString(KeyRetryInterval))
	}

	if cfg.DefaultConcurrency, err = strconv.Atoi(v.GetString(KeyDefaultConcurrency)); err != nil || cfg.DefaultConcurrency <= 0 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, KeyDefaultConcurrency, v.GetString(KeyDefaultConcurrency))
	}

	if cfg.SkippedSatisfies, err = strconv.ParseBool(v.GetString(KeySkippedSatisfies)); err != nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, KeySkippedSatisfies, v.GetString(KeySkippedSatisfies))
	}

	if cfg.ClassLimits, err = launcher.ParseClassLimits(v.GetString(KeyClassLimits)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, KeyClassLimits, err)
	}

	if _, err := scheduler.ParseSchedule(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, KeySweepSchedule, err)
	}

	return cfg, nil
}

// port приводит "8081" и ":8081" к адресу для http.Server.
func port(v string) string {
	if strings.HasPrefix(v, ":") {
		return v
	}
	return ":" + v
}
