// Package config loads application configuration from environment
// variables.  main calls godotenv first, so a local .env file works in
// development without being required in production.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field
// corresponds to an environment variable; durations accept Go duration
// syntax ("10m", "1m30s").
type Config struct {
	Env  string // application environment (dev/test/prod)
	Port string // HTTP port to listen on

	StoreDriver string // "mysql" or "memory"
	DBUser      string // database username (mysql driver only)
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name

	DBMaxOpenConns    int           // connection pool upper bound
	DBMaxIdleConns    int           // idle connections kept around
	DBConnMaxLifetime time.Duration // recycle connections after this long
	DBPingTimeout     time.Duration // startup connectivity check bound

	JWTSecret    string // secret used to verify tokens from the auth layer
	GatewayToken string // shared token expected on payment callbacks

	HoldGracePeriod time.Duration // how long a seat hold survives unpaid
	SweepInterval   time.Duration // how often the expiry sweeper runs
	ReconcileEvery  int           // run reconciliation every Nth sweep; 0 disables
	LockWait        time.Duration // bound on lock acquisition attempts
	MaxRetries      int           // internal retries of transient store failures

	QueueEnabled bool // start the AMQP publisher and payment consumer
}

// Load reads configuration from the environment.  Secrets are required
// and abort startup when missing; the operational knobs all have
// defaults tuned for the production sweep cadence (1 minute) and the
// business grace period (10 minutes).
func Load() Config {
	cfg := Config{
		Env:             envStr("APP_ENV", "dev"),
		Port:            envStr("APP_PORT", "8080"),
		StoreDriver:     envStr("STORE_DRIVER", "mysql"),
		JWTSecret:       must("JWT_SECRET"),
		GatewayToken:    must("PAYMENT_GATEWAY_TOKEN"),
		HoldGracePeriod: envDur("HOLD_GRACE_PERIOD", 10*time.Minute),
		SweepInterval:   envDur("SWEEP_INTERVAL", time.Minute),
		ReconcileEvery:  envInt("RECONCILE_EVERY_N_SWEEPS", 10),
		LockWait:        envDur("LOCK_WAIT", 250*time.Millisecond),
		MaxRetries:      envInt("STORE_MAX_RETRIES", 3),
		QueueEnabled:    envBool("QUEUE_ENABLED", true),
	}
	if cfg.StoreDriver == "mysql" {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS") // empty allowed
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
		cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
		cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 25)
		cfg.DBConnMaxLifetime = envDur("DB_CONN_MAX_LIFETIME", 30*time.Minute)
		cfg.DBPingTimeout = envDur("DB_PING_TIMEOUT", 5*time.Second)
	}
	return cfg
}

// must retrieves a required environment variable or aborts startup.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
