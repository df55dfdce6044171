// Package normalize turns raw tracker rows into validated TechDetails.
package normalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/source"
)

// ValidationError reports unusable row data. It carries the row's display
// number so the admin relay can point a human at the right row.
type ValidationError struct {
	RowNumber int
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row #%d: %s", e.RowNumber, e.Reason)
}

// TimezoneResolver is the slice of the geocode resolver the normalizer
// needs.
type TimezoneResolver interface {
	ResolveTimezone(ctx context.Context, postalCode, city, state string) (*time.Location, error)
}

// Normalizer extracts canonical TechDetails from rows of one source.
type Normalizer struct {
	src      source.RecordSource
	resolver TimezoneResolver // nil: fall back to fallbackLoc
	fallback *time.Location
}

// New creates a Normalizer. resolver may be nil, in which case appointment
// times are taken in fallback (or time.Local when that is nil too) so
// comparisons stay consistent within one process.
func New(src source.RecordSource, resolver TimezoneResolver, fallback *time.Location) *Normalizer {
	if fallback == nil {
		fallback = time.Local
	}
	return &Normalizer{src: src, resolver: resolver, fallback: fallback}
}

// Normalize builds the immutable TechDetails view of row. Geocode failures
// pass through untouched so callers can tell a retryable timeout from bad
// row data.
func (n *Normalizer) Normalize(ctx context.Context, row source.Row) (domain.TechDetails, error) {
	phone, err := n.phone(row)
	if err != nil {
		return domain.TechDetails{}, err
	}

	postal, err := n.postal(row)
	if err != nil {
		return domain.TechDetails{}, err
	}

	apptAt, err := n.apptDateTime(ctx, row, postal)
	if err != nil {
		return domain.TechDetails{}, err
	}

	market, err := n.WorkMarketNum(row)
	if err != nil {
		return domain.TechDetails{}, err
	}

	return domain.TechDetails{
		SiteID:        n.stringField(row, domain.ColSiteID),
		TechName:      n.stringField(row, domain.ColTechName),
		TechContact:   phone,
		Address:       n.fullAddress(row, postal),
		ApptAt:        apptAt,
		WorkMarketNum: market,
		WorkOrderNum:  n.stringField(row, domain.ColWorkOrder),
	}, nil
}

// ApptDate reads just the appointment date, for the 24-hour pass's cheap
// tomorrow filter.
func (n *Normalizer) ApptDate(row source.Row) (time.Time, error) {
	raw := n.stringField(row, domain.ColApptDate)
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("appointment date %q is not an ISO date", raw),
		}
	}
	return d, nil
}

// phone accepts numeric, float-like, or string input, parses with region
// default US, and rejects numbers that fail the validity check.
func (n *Normalizer) phone(row source.Row) (string, error) {
	raw := n.stringField(row, domain.ColTechPhone)
	cleaned := strings.TrimSuffix(raw, ".0")

	num, err := phonenumbers.Parse(cleaned, "US")
	if err != nil {
		return "", &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("phone %q: %v", raw, err),
		}
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("phone %d is not a valid number", num.GetNationalNumber()),
		}
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// postal re-renders integer-convertible codes as zero-padded 5-digit
// strings and otherwise requires strict ZIP+4 format.
func (n *Normalizer) postal(row source.Row) (string, error) {
	raw := n.stringField(row, domain.ColZip)
	if code, ok := normalizePlainZip(raw); ok {
		return code, nil
	}
	if isZipPlus4(raw) {
		return raw, nil
	}
	return "", &ValidationError{
		RowNumber: row.Number(),
		Reason:    fmt.Sprintf("postal code %q has an unrecognized format", raw),
	}
}

func normalizePlainZip(s string) (string, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return "", false
	}
	if len(s) > 5 {
		// 6+ digits cannot be a ZIP; ZIP+4 without its hyphen is rejected.
		return "", false
	}
	return fmt.Sprintf("%05d", v), true
}

func isZipPlus4(s string) bool {
	if len(s) != 10 || s[5] != '-' {
		return false
	}
	for i, c := range s {
		if i == 5 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// apptDateTime combines the ISO date field with the HHMM-encoded time
// field, in the timezone geocoded from the row's location.
func (n *Normalizer) apptDateTime(ctx context.Context, row source.Row, postal string) (time.Time, error) {
	d, err := n.ApptDate(row)
	if err != nil {
		return time.Time{}, err
	}

	rawTime := n.stringField(row, domain.ColApptTime)
	hhmm, err := strconv.Atoi(strings.TrimSuffix(rawTime, ".0"))
	if err != nil {
		return time.Time{}, &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("appointment time %q is not an HHMM value", rawTime),
		}
	}
	hour, minute := hhmm/100, hhmm%100
	if hhmm < 0 || hhmm > 2359 || minute > 59 {
		return time.Time{}, &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("appointment time %04d is outside 0000-2359", hhmm),
		}
	}

	loc := n.fallback
	if n.resolver != nil {
		city := n.stringField(row, domain.ColCity)
		state := n.stringField(row, domain.ColState)
		loc, err = n.resolver.ResolveTimezone(ctx, postal, city, state)
		if err != nil {
			return time.Time{}, err
		}
	}

	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), nil
}

// WorkMarketNum accepts a plain integer or the trailing segment of a
// slash-delimited path ("NA/123/456" -> "456").
func (n *Normalizer) WorkMarketNum(row source.Row) (string, error) {
	raw := n.stringField(row, domain.ColWorkMarket)
	candidate := raw
	if i := strings.LastIndex(candidate, "/"); i >= 0 {
		candidate = candidate[i+1:]
	}
	candidate = strings.TrimSuffix(strings.TrimSpace(candidate), ".0")
	if _, err := strconv.Atoi(candidate); err != nil {
		return "", &ValidationError{
			RowNumber: row.Number(),
			Reason:    fmt.Sprintf("work market number %q is not parseable", raw),
		}
	}
	return candidate, nil
}

// fullAddress joins street, city, state and zip. Missing pieces coerce to
// empty strings: cosmetic gaps should not block a reminder.
func (n *Normalizer) fullAddress(row source.Row, postal string) string {
	parts := []string{
		n.stringField(row, domain.ColAddress),
		n.stringField(row, domain.ColCity),
		n.stringField(row, domain.ColState),
		postal,
	}
	return strings.Join(parts, ", ")
}

// stringField renders any cell value as a trimmed string; missing fields
// and unknown columns coerce to "".
func (n *Normalizer) stringField(row source.Row, column string) string {
	v, err := n.src.GetField(row, column)
	if err != nil || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", x))
	}
}
