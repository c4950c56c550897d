package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// Scheduling engine knobs.
	HorizonDays           int `mapstructure:"HORIZON_DAYS"`
	SweepIntervalMinutes  int `mapstructure:"SWEEP_INTERVAL_MINUTES"`
	SweepBatchSize        int `mapstructure:"SWEEP_BATCH_SIZE"`
	SweepBudgetSeconds    int `mapstructure:"SWEEP_BUDGET_SECONDS"`
	RetentionDays         int `mapstructure:"RETENTION_DAYS"`
	UndoWindowSeconds     int `mapstructure:"UNDO_WINDOW_SECONDS"`
	TimingAccuracyMinutes int `mapstructure:"TIMING_ACCURACY_MINUTES"`

	// Time-bucket boundaries, as hours of day. A scheduled time belongs to
	// morning before NoonStartHour, noon before EveningStartHour, evening
	// before BedtimeStartHour, bedtime otherwise.
	NoonStartHour    int `mapstructure:"BUCKET_NOON_START_HOUR"`
	EveningStartHour int `mapstructure:"BUCKET_EVENING_START_HOUR"`
	BedtimeStartHour int `mapstructure:"BUCKET_BEDTIME_START_HOUR"`

	// HolidayDates lists YYYY-MM-DD dates that stretch grace periods.
	HolidayDates []string `mapstructure:"HOLIDAY_DATES"`
	// DrugMetaURL points at the drug-metadata catalog; empty disables lookups.
	DrugMetaURL string `mapstructure:"DRUGMETA_URL"`

	// FamilyGrants lists subject:patient_id:level entries for caregivers
	// whose grants are not embedded in their tokens. Empty means token
	// grants are the only source of family access.
	FamilyGrants []string `mapstructure:"FAMILY_GRANTS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("HORIZON_DAYS", 7)
	v.SetDefault("SWEEP_INTERVAL_MINUTES", 15)
	v.SetDefault("SWEEP_BATCH_SIZE", 50)
	v.SetDefault("SWEEP_BUDGET_SECONDS", 120)
	v.SetDefault("RETENTION_DAYS", 30)
	v.SetDefault("UNDO_WINDOW_SECONDS", 30)
	v.SetDefault("TIMING_ACCURACY_MINUTES", 30)
	v.SetDefault("BUCKET_NOON_START_HOUR", 11)
	v.SetDefault("BUCKET_EVENING_START_HOUR", 16)
	v.SetDefault("BUCKET_BEDTIME_START_HOUR", 21)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"HORIZON_DAYS", "SWEEP_INTERVAL_MINUTES", "SWEEP_BATCH_SIZE",
		"SWEEP_BUDGET_SECONDS", "RETENTION_DAYS", "UNDO_WINDOW_SECONDS",
		"TIMING_ACCURACY_MINUTES", "BUCKET_NOON_START_HOUR",
		"BUCKET_EVENING_START_HOUR", "BUCKET_BEDTIME_START_HOUR",
		"HOLIDAY_DATES", "DRUGMETA_URL", "FAMILY_GRANTS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.HolidayDates == nil {
		dates := v.GetString("HOLIDAY_DATES")
		if dates != "" {
			cfg.HolidayDates = strings.Split(dates, ",")
		}
	}
	if cfg.FamilyGrants == nil {
		grants := v.GetString("FAMILY_GRANTS")
		if grants != "" {
			cfg.FamilyGrants = strings.Split(grants, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run with. In
// non-development modes JWT_SECRET must be set so caller identity can be
// verified before family-access checks.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV is not development")
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("HORIZON_DAYS must be positive, got %d", c.HorizonDays)
	}
	if c.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be positive, got %d", c.SweepIntervalMinutes)
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	if c.UndoWindowSeconds <= 0 {
		return fmt.Errorf("UNDO_WINDOW_SECONDS must be positive, got %d", c.UndoWindowSeconds)
	}
	if !(0 < c.NoonStartHour && c.NoonStartHour < c.EveningStartHour && c.EveningStartHour < c.BedtimeStartHour && c.BedtimeStartHour <= 24) {
		return fmt.Errorf("bucket boundaries must be ascending hours within a day: noon=%d evening=%d bedtime=%d",
			c.NoonStartHour, c.EveningStartHour, c.BedtimeStartHour)
	}
	return nil
}
