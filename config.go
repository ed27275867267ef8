package smsratelimit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RateWindow is the window both ceilings are measured over.
const RateWindow = time.Second

// Settings holds everything the process reads from its environment.
type Settings struct {
	SenderMaxPerSecond  int           `envconfig:"SENDER_MAX_PER_SECOND" default:"5"`
	AccountMaxPerSecond int           `envconfig:"ACCOUNT_MAX_PER_SECOND" default:"100"`
	InactiveThreshold   time.Duration `envconfig:"INACTIVE_THRESHOLD" default:"2m"`
	ActiveThreshold     time.Duration `envconfig:"ACTIVE_THRESHOLD" default:"1h"`
	CleanupInterval     time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1m"`
	HistoryRetention    time.Duration `envconfig:"HISTORY_RETENTION" default:"3m"`
	SweepErrorDelay     time.Duration `envconfig:"SWEEP_ERROR_DELAY" default:"1m"`
	IdentityLookback    time.Duration `envconfig:"IDENTITY_LOOKBACK" default:"24h"`
	IdentityCacheTTL    time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"5s"`

	Port            int     `envconfig:"SERVER_PORT" default:"8080"`
	MonitoringRPS   float64 `envconfig:"MONITORING_RPS" default:"20"`
	MonitoringBurst int     `envconfig:"MONITORING_BURST" default:"40"`

	RedisURL       string `envconfig:"REDIS_URL"` // empty disables event publishing
	EventStream    string `envconfig:"EVENT_STREAM" default:"smsratelimit"`
	EventStreamLen int64  `envconfig:"EVENT_STREAM_MAXLEN" default:"10000"`

	NTPServer  string        `envconfig:"NTP_SERVER"` // empty skips the clock check
	NTPMaxSkew time.Duration `envconfig:"NTP_MAX_SKEW" default:"500ms"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogFile   string `envconfig:"LOG_FILE"`
}

// LoadSettings reads an optional .env file from the working directory and
// then the process environment.
func LoadSettings() (Settings, error) {
	if err := loadEnvFile(".env"); err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return Settings{}, fmt.Errorf("error loading config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	var errs []error
	if s.SenderMaxPerSecond <= 0 {
		errs = append(errs, errors.New("SENDER_MAX_PER_SECOND must be positive"))
	}
	if s.AccountMaxPerSecond <= 0 {
		errs = append(errs, errors.New("ACCOUNT_MAX_PER_SECOND must be positive"))
	}
	if s.InactiveThreshold <= 0 {
		errs = append(errs, errors.New("INACTIVE_THRESHOLD must be positive"))
	}
	if s.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive"))
	}
	if s.HistoryRetention <= 0 {
		errs = append(errs, errors.New("HISTORY_RETENTION must be positive"))
	}
	if s.SweepErrorDelay <= 0 {
		errs = append(errs, errors.New("SWEEP_ERROR_DELAY must be positive"))
	}
	if s.IdentityLookback <= 0 {
		errs = append(errs, errors.New("IDENTITY_LOOKBACK must be positive"))
	}
	if s.MonitoringRPS <= 0 || s.MonitoringBurst <= 0 {
		errs = append(errs, errors.New("MONITORING_RPS and MONITORING_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("error loading %s file: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("unexpected error looking for %s file: %w", path, err)
	}
	return nil
}
