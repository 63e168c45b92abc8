package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	SessionTTLMins int    `mapstructure:"SESSION_TTL_MINUTES"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Clinic operating rules.
	WorkDayStartHour int `mapstructure:"WORK_DAY_START_HOUR"`
	WorkDayEndHour   int `mapstructure:"WORK_DAY_END_HOUR"`
	SlotMinutes      int `mapstructure:"SLOT_MINUTES"`

	// Default consultation prices, in rupees.
	PriceClinicVisit float64 `mapstructure:"PRICE_CLINIC_VISIT"`
	PriceHomeVisit   float64 `mapstructure:"PRICE_HOME_VISIT"`
	PriceOnlineVisit float64 `mapstructure:"PRICE_ONLINE_VISIT"`
	TaxRatePercent   float64 `mapstructure:"TAX_RATE_PERCENT"`

	TwilioAccountSID     string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppNumber string `mapstructure:"TWILIO_WHATSAPP_NUMBER"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	SentryDSN    string   `mapstructure:"SENTRY_DSN"`

	ReminderIntervalMins int `mapstructure:"REMINDER_INTERVAL_MINUTES"`
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
	v.SetDefault("SESSION_TTL_MINUTES", 480)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("WORK_DAY_START_HOUR", 9)
	v.SetDefault("WORK_DAY_END_HOUR", 18)
	v.SetDefault("SLOT_MINUTES", 30)
	v.SetDefault("PRICE_CLINIC_VISIT", 500)
	v.SetDefault("PRICE_HOME_VISIT", 800)
	v.SetDefault("PRICE_ONLINE_VISIT", 400)
	v.SetDefault("TAX_RATE_PERCENT", 0)
	v.SetDefault("TWILIO_WHATSAPP_NUMBER", "whatsapp:+14155238886")
	v.SetDefault("REMINDER_INTERVAL_MINUTES", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("SESSION_TTL_MINUTES")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("WORK_DAY_START_HOUR")
	v.BindEnv("WORK_DAY_END_HOUR")
	v.BindEnv("SLOT_MINUTES")
	v.BindEnv("PRICE_CLINIC_VISIT")
	v.BindEnv("PRICE_HOME_VISIT")
	v.BindEnv("PRICE_ONLINE_VISIT")
	v.BindEnv("TAX_RATE_PERCENT")
	v.BindEnv("TWILIO_ACCOUNT_SID")
	v.BindEnv("TWILIO_AUTH_TOKEN")
	v.BindEnv("TWILIO_WHATSAPP_NUMBER")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("SENTRY_DSN")
	v.BindEnv("REMINDER_INTERVAL_MINUTES")

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
	if cfg.KafkaBrokers == nil {
		brokers := v.GetString("KAFKA_BROKERS")
		if brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET not set; using an insecure development secret.")
		cfg.JWTSecret = "dev-only-insecure-secret"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WhatsAppEnabled reports whether Twilio credentials are configured.
func (c *Config) WhatsAppEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a real JWT_SECRET is mandatory, and the clinic's working-hour window and
// slot size must describe a usable schedule.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV is not \"development\"")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
		}
	}

	if c.WorkDayStartHour < 0 || c.WorkDayStartHour > 23 {
		return fmt.Errorf("WORK_DAY_START_HOUR must be between 0 and 23, got %d", c.WorkDayStartHour)
	}
	if c.WorkDayEndHour < 1 || c.WorkDayEndHour > 24 {
		return fmt.Errorf("WORK_DAY_END_HOUR must be between 1 and 24, got %d", c.WorkDayEndHour)
	}
	if c.WorkDayEndHour <= c.WorkDayStartHour {
		return fmt.Errorf("WORK_DAY_END_HOUR (%d) must be after WORK_DAY_START_HOUR (%d)",
			c.WorkDayEndHour, c.WorkDayStartHour)
	}
	if c.SlotMinutes <= 0 || c.SlotMinutes > 240 {
		return fmt.Errorf("SLOT_MINUTES must be between 1 and 240, got %d", c.SlotMinutes)
	}
	if c.SessionTTLMins <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive, got %d", c.SessionTTLMins)
	}

	return nil
}
