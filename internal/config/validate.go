package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.SourceMode {
	case "sheet":
		if cfg.SheetToken == "" {
			errs = append(errs, ValidationError{
				Field:   "SHEET_TOKEN",
				Message: "required when SOURCE_MODE=sheet",
			})
		}
		if len(cfg.SheetIDs) == 0 {
			errs = append(errs, ValidationError{
				Field:   "SHEET_IDS",
				Message: "at least one sheet id required when SOURCE_MODE=sheet",
			})
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when SOURCE_MODE=postgres",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "SOURCE_MODE",
			Message: fmt.Sprintf("must be 'sheet' or 'postgres', got %q", cfg.SourceMode),
		})
	}

	switch cfg.SMSProvider {
	case "twilio":
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "" {
			errs = append(errs, ValidationError{
				Field:   "TWILIO_ACCOUNT_SID",
				Message: "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM required when SMS_PROVIDER=twilio",
			})
		}
	case "session":
		if cfg.SessionURL == "" {
			errs = append(errs, ValidationError{
				Field:   "SESSION_URL",
				Message: "required when SMS_PROVIDER=session",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "SMS_PROVIDER",
			Message: fmt.Sprintf("must be 'twilio' or 'session', got %q", cfg.SMSProvider),
		})
	}

	if cfg.GeoNamesUsername == "" {
		errs = append(errs, ValidationError{
			Field:   "GEONAMES_USERNAME",
			Message: "required",
		})
	}

	if cfg.FormURL == "" {
		errs = append(errs, ValidationError{
			Field:   "FORM_URL",
			Message: "required",
		})
	}

	if cfg.FallbackTimezone != "" {
		if _, err := time.LoadLocation(cfg.FallbackTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "FALLBACK_TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	if cfg.LookaheadStr != "" {
		d, err := time.ParseDuration(cfg.LookaheadStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "LOOKAHEAD",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= time.Hour {
			errs = append(errs, ValidationError{
				Field:   "LOOKAHEAD",
				Message: "must exceed 1h, reminders fire one hour before the appointment",
			})
		}
	}

	if cfg.SweepIntervalStr != "" {
		d, err := time.ParseDuration(cfg.SweepIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
