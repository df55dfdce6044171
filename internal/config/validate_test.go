package config

import (
	"strings"
	"testing"
)

func validSheetConfig() Config {
	return Config{
		SourceMode:       "sheet",
		SheetToken:       "tok",
		SheetIDs:         []string{"111"},
		SMSProvider:      "twilio",
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "secret",
		TwilioFrom:       "+12125550134",
		GeoNamesUsername: "demo",
		FormURL:          "https://forms.example.com/checkin",
		LookaheadStr:     "24h",
		SweepIntervalStr: "5m",
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validSheetConfig()); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_SourceMode(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sheet missing token", func(c *Config) { c.SheetToken = "" }, "SHEET_TOKEN"},
		{"sheet missing ids", func(c *Config) { c.SheetIDs = nil }, "SHEET_IDS"},
		{"postgres missing url", func(c *Config) { c.SourceMode = "postgres"; c.DatabaseURL = "" }, "DATABASE_URL"},
		{"unknown mode", func(c *Config) { c.SourceMode = "csv" }, "SOURCE_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSheetConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_SMSProvider(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"twilio missing from", func(c *Config) { c.TwilioFrom = "" }, "TWILIO_FROM"},
		{"session missing url", func(c *Config) { c.SMSProvider = "session" }, "SESSION_URL"},
		{"unknown provider", func(c *Config) { c.SMSProvider = "carrier-pigeon" }, "SMS_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSheetConfig()
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_Lookahead(t *testing.T) {
	tests := []struct {
		name      string
		lookahead string
		wantErr   string
	}{
		{"non-parseable", "soon", "invalid duration"},
		{"too short", "45m", "must exceed 1h"},
		{"exactly one hour", "1h", "must exceed 1h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSheetConfig()
			cfg.LookaheadStr = tt.lookahead

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for lookahead=%q", tt.lookahead)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_FallbackTimezone(t *testing.T) {
	cfg := validSheetConfig()
	cfg.FallbackTimezone = "America/Atlantis"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
	if !strings.Contains(err.Error(), "FALLBACK_TIMEZONE") {
		t.Errorf("error should mention FALLBACK_TIMEZONE: %q", err.Error())
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Config{SourceMode: "sheet", SMSProvider: "twilio"}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	// Missing token, ids, twilio creds, geonames user and form url.
	if len(verrs) != 5 {
		t.Errorf("expected 5 errors, got %d: %v", len(verrs), verrs)
	}
	if !strings.Contains(err.Error(), "validation errors:") {
		t.Errorf("aggregate message should count errors: %q", err.Error())
	}
}
