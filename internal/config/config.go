package config

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the check-in application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	// SourceMode: "sheet" (hosted spreadsheet API) or "postgres".
	SourceMode string `json:"source_mode"`

	SheetToken string   `json:"sheet_token"`
	SheetIDs   []string `json:"sheet_ids"`

	SheetAPITimeout    time.Duration `json:"-"`
	SheetAPITimeoutStr string        `json:"sheet_api_timeout"`

	DatabaseURL string `json:"database_url"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	GeoNamesUsername string `json:"geonames_username"`

	GeocodeTimeout    time.Duration `json:"-"`
	GeocodeTimeoutStr string        `json:"geocode_timeout"`

	// FallbackTimezone is used when geocoding cannot resolve a row.
	FallbackTimezone string `json:"fallback_timezone"`

	// SMSProvider: "twilio" or "session".
	SMSProvider      string `json:"sms_provider"`
	TwilioAccountSID string `json:"twilio_account_sid"`
	TwilioAuthToken  string `json:"twilio_auth_token"`
	TwilioFrom       string `json:"twilio_from"`
	SessionURL       string `json:"session_url"`
	SessionUser      string `json:"session_user"`
	SessionPassword  string `json:"session_password"`

	SMSTimeout    time.Duration `json:"-"`
	SMSTimeoutStr string        `json:"sms_timeout"`

	SMSPostSendDelay    time.Duration `json:"-"`
	SMSPostSendDelayStr string        `json:"sms_post_send_delay"`

	// AdminContact receives row-level error relays. Empty disables them.
	AdminContact string `json:"admin_contact"`

	FormURL        string `json:"form_url"`
	EscapeFormHash bool   `json:"escape_form_hash"`

	// Cron expressions for the periodic scan passes (standard 5-field).
	Schedule24Hour string `json:"schedule_24h"`
	Schedule1Hour  string `json:"schedule_1h"`

	Lookahead    time.Duration `json:"-"`
	LookaheadStr string        `json:"lookahead"`

	SweepEnabled     bool          `json:"sweep_enabled"`
	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`

	HTTPAddr       string `json:"http_addr"`
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	RedisAddr string `json:"redis_addr,omitempty"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		SourceMode:             os.Getenv("SOURCE_MODE"),
		SheetToken:             os.Getenv("SHEET_TOKEN"),
		SheetAPITimeoutStr:     os.Getenv("SHEET_API_TIMEOUT"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		GeoNamesUsername:       os.Getenv("GEONAMES_USERNAME"),
		GeocodeTimeoutStr:      os.Getenv("GEOCODE_TIMEOUT"),
		FallbackTimezone:       os.Getenv("FALLBACK_TIMEZONE"),
		SMSProvider:            os.Getenv("SMS_PROVIDER"),
		TwilioAccountSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:        os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:             os.Getenv("TWILIO_FROM"),
		SessionURL:             os.Getenv("SESSION_URL"),
		SessionUser:            os.Getenv("SESSION_USER"),
		SessionPassword:        os.Getenv("SESSION_PASSWORD"),
		SMSTimeoutStr:          os.Getenv("SMS_TIMEOUT"),
		SMSPostSendDelayStr:    os.Getenv("SMS_POST_SEND_DELAY"),
		AdminContact:           os.Getenv("ADMIN_CONTACT"),
		FormURL:                os.Getenv("FORM_URL"),
		EscapeFormHash:         os.Getenv("ESCAPE_FORM_HASH") == "true",
		Schedule24Hour:         os.Getenv("SCHEDULE_24H"),
		Schedule1Hour:          os.Getenv("SCHEDULE_1H"),
		LookaheadStr:           os.Getenv("LOOKAHEAD"),
		SweepEnabled:           os.Getenv("SWEEP_ENABLED") != "false",
		SweepIntervalStr:       os.Getenv("SWEEP_INTERVAL"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		AnalyticsRetentionStr:  os.Getenv("ANALYTICS_RETENTION"),
	}

	if ids := os.Getenv("SHEET_IDS"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.SheetIDs = append(cfg.SheetIDs, id)
			}
		}
	}

	cfg.CircuitBreakerThreshold = 5
	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")

	if cfg.SourceMode == "" {
		cfg.SourceMode = "sheet"
	}
	if cfg.SMSProvider == "" {
		cfg.SMSProvider = "twilio"
	}
	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Schedule24Hour == "" {
		// Daily morning pass, process-local time.
		cfg.Schedule24Hour = "0 9 * * *"
	}
	if cfg.Schedule1Hour == "" {
		cfg.Schedule1Hour = "*/30 * * * *"
	}
	if cfg.SheetAPITimeoutStr == "" {
		cfg.SheetAPITimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.GeocodeTimeoutStr == "" {
		cfg.GeocodeTimeoutStr = "10s"
	}
	if cfg.SMSTimeoutStr == "" {
		cfg.SMSTimeoutStr = "30s"
	}
	if cfg.SMSPostSendDelayStr == "" {
		cfg.SMSPostSendDelayStr = "2s"
	}
	if cfg.LookaheadStr == "" {
		cfg.LookaheadStr = "24h"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "2160h" // 90 days
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.SheetAPITimeoutStr); err == nil {
		cfg.SheetAPITimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.GeocodeTimeoutStr); err == nil {
		cfg.GeocodeTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SMSTimeoutStr); err == nil {
		cfg.SMSTimeout = d
	}
	if d, err := time.ParseDuration(cfg.SMSPostSendDelayStr); err == nil {
		cfg.SMSPostSendDelay = d
	}
	if d, err := time.ParseDuration(cfg.LookaheadStr); err == nil {
		cfg.Lookahead = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		SourceMode              string   `json:"source_mode"`
		SheetToken              string   `json:"sheet_token,omitempty"`
		SheetIDs                []string `json:"sheet_ids,omitempty"`
		SheetAPITimeout         string   `json:"sheet_api_timeout"`
		DatabaseURL             string   `json:"database_url,omitempty"`
		DBOpTimeout             string   `json:"db_op_timeout"`
		GeoNamesUsername        string   `json:"geonames_username"`
		GeocodeTimeout          string   `json:"geocode_timeout"`
		FallbackTimezone        string   `json:"fallback_timezone,omitempty"`
		SMSProvider             string   `json:"sms_provider"`
		TwilioAccountSID        string   `json:"twilio_account_sid,omitempty"`
		TwilioAuthToken         string   `json:"twilio_auth_token,omitempty"`
		TwilioFrom              string   `json:"twilio_from,omitempty"`
		SessionURL              string   `json:"session_url,omitempty"`
		SessionUser             string   `json:"session_user,omitempty"`
		SessionPassword         string   `json:"session_password,omitempty"`
		SMSTimeout              string   `json:"sms_timeout"`
		SMSPostSendDelay        string   `json:"sms_post_send_delay"`
		AdminContact            string   `json:"admin_contact,omitempty"`
		FormURL                 string   `json:"form_url"`
		EscapeFormHash          bool     `json:"escape_form_hash"`
		Schedule24Hour          string   `json:"schedule_24h"`
		Schedule1Hour           string   `json:"schedule_1h"`
		Lookahead               string   `json:"lookahead"`
		SweepEnabled            bool     `json:"sweep_enabled"`
		SweepInterval           string   `json:"sweep_interval"`
		HTTPAddr                string   `json:"http_addr"`
		MetricsEnabled          bool     `json:"metrics_enabled"`
		MetricsPath             string   `json:"metrics_path"`
		HTTPShutdownTimeout     string   `json:"http_shutdown_timeout"`
		RedisAddr               string   `json:"redis_addr,omitempty"`
		AnalyticsRetention      string   `json:"analytics_retention"`
		CircuitBreakerThreshold int      `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string   `json:"circuit_breaker_cooldown"`
	}{
		SourceMode:              c.SourceMode,
		SheetToken:              maskSecret(c.SheetToken),
		SheetIDs:                c.SheetIDs,
		SheetAPITimeout:         c.SheetAPITimeoutStr,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		DBOpTimeout:             c.DBOpTimeoutStr,
		GeoNamesUsername:        c.GeoNamesUsername,
		GeocodeTimeout:          c.GeocodeTimeoutStr,
		FallbackTimezone:        c.FallbackTimezone,
		SMSProvider:             c.SMSProvider,
		TwilioAccountSID:        c.TwilioAccountSID,
		TwilioAuthToken:         maskSecret(c.TwilioAuthToken),
		TwilioFrom:              c.TwilioFrom,
		SessionURL:              c.SessionURL,
		SessionUser:             c.SessionUser,
		SessionPassword:         maskSecret(c.SessionPassword),
		SMSTimeout:              c.SMSTimeoutStr,
		SMSPostSendDelay:        c.SMSPostSendDelayStr,
		AdminContact:            c.AdminContact,
		FormURL:                 c.FormURL,
		EscapeFormHash:          c.EscapeFormHash,
		Schedule24Hour:          c.Schedule24Hour,
		Schedule1Hour:           c.Schedule1Hour,
		Lookahead:               c.LookaheadStr,
		SweepEnabled:            c.SweepEnabled,
		SweepInterval:           c.SweepIntervalStr,
		HTTPAddr:                c.HTTPAddr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		RedisAddr:               c.RedisAddr,
		AnalyticsRetention:      c.AnalyticsRetentionStr,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
