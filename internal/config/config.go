// Package config loads pgebus settings from the environment, following
// the PGEBUS_SECTION__FIELD naming scheme (e.g. PGEBUS_DATABASE__HOST,
// PGEBUS_EVENT_SYSTEM__N_WORKERS).
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConfig describes how to reach the PostgreSQL instance backing
// the event bus, and which schema its table lives in.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	ApplicationName string
	SchemaName      string
}

// ConnString builds a libpq-style connection URL, the way the teacher's
// buildDBURL does for its single-tenant database.
func (d DatabaseConfig) ConnString() string {
	appName := d.ApplicationName
	if appName == "" {
		appName = "pgebus"
	}
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Database + "?sslmode=disable&application_name=" + appName
}

// EventSystemConfig is the tunable surface of spec.md §6.
type EventSystemConfig struct {
	Channel                   string
	NWorkers                  int
	QueueMaxSize              int
	MaxRetries                int
	PollInterval              time.Duration
	ShutdownWaitTimeout       time.Duration
	ShutdownWaitForCompletion bool

	// StuckRunningGrace bounds how long a row may sit RUNNING with no
	// progress before the reaper resets it to PENDING. Not in spec.md's
	// option table; added per its own "Open Questions" note that a
	// reaper is required but left unspecified there.
	StuckRunningGrace time.Duration

	// BackfillBatchSize caps how many due-pending ids the listener loads
	// on startup/reconnect back-fill. Defaults to QueueMaxSize.
	BackfillBatchSize int
}

// Config is the full settings object handed to the system facade.
type Config struct {
	Env         string
	Database    DatabaseConfig
	EventSystem EventSystemConfig
}

// Load reads Config from the environment, applying the defaults from
// spec.md §6.
func Load() Config {
	cfg := Config{
		Env: getEnv("APP_ENV", "dev"),
		Database: DatabaseConfig{
			Host:            getEnv("PGEBUS_DATABASE__HOST", "127.0.0.1"),
			Port:            getEnvInt("PGEBUS_DATABASE__PORT", 5432),
			User:            getEnv("PGEBUS_DATABASE__USER", "pgebus"),
			Password:        getEnv("PGEBUS_DATABASE__PASSWORD", "pgebus"),
			Database:        getEnv("PGEBUS_DATABASE__DATABASE", "pgebus"),
			ApplicationName: getEnv("PGEBUS_DATABASE__APPLICATION_NAME", "pgebus"),
			SchemaName:      getEnv("PGEBUS_DATABASE__SCHEMA_NAME", "pgebus"),
		},
		EventSystem: EventSystemConfig{
			Channel:                   getEnv("PGEBUS_EVENT_SYSTEM__CHANNEL", "events"),
			NWorkers:                  clampInt(getEnvInt("PGEBUS_EVENT_SYSTEM__N_WORKERS", 5), 1, 100),
			QueueMaxSize:              maxInt(getEnvInt("PGEBUS_EVENT_SYSTEM__QUEUE_MAXSIZE", 1000), 0),
			MaxRetries:                clampInt(getEnvInt("PGEBUS_EVENT_SYSTEM__MAX_RETRIES", 3), 0, 10),
			PollInterval:              clampDuration(getEnvDuration("PGEBUS_EVENT_SYSTEM__POLL_INTERVAL", time.Second), 100*time.Millisecond, 60*time.Second),
			ShutdownWaitTimeout:       maxDuration(getEnvDuration("PGEBUS_EVENT_SYSTEM__SHUTDOWN_WAIT_TIMEOUT", 30*time.Second), 0),
			ShutdownWaitForCompletion: getEnvBool("PGEBUS_EVENT_SYSTEM__SHUTDOWN_WAIT_FOR_COMPLETION", true),
			StuckRunningGrace:         getEnvDuration("PGEBUS_EVENT_SYSTEM__STUCK_RUNNING_GRACE", 5*time.Minute),
			BackfillBatchSize:         getEnvInt("PGEBUS_EVENT_SYSTEM__BACKFILL_BATCH_SIZE", 0),
		},
	}

	if cfg.EventSystem.BackfillBatchSize <= 0 {
		cfg.EventSystem.BackfillBatchSize = cfg.EventSystem.QueueMaxSize
		if cfg.EventSystem.BackfillBatchSize <= 0 {
			cfg.EventSystem.BackfillBatchSize = 1000
		}
	}

	return cfg
}

// PoolConfig turns ConnString into a pgxpool config sized for the
// worker pool's session factory (n_workers concurrent sessions plus a
// little headroom for housekeeping queries).
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(c.Database.ConnString())
	if err != nil {
		return nil, err
	}

	pcfg.MaxConns = int32(c.EventSystem.NWorkers) + 2

	return pcfg, nil
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fmt.Println(err)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// also accept bare seconds, matching the source's float-seconds fields
			if secs, serr := strconv.ParseFloat(v, 64); serr == nil {
				return time.Duration(secs * float64(time.Second))
			}
			fmt.Println(err)
			return fallback
		}
		return d
	}
	return fallback
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxDuration(v, lo time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	return v
}
