package checkin

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/source"
)

// WithCorrector wires the correction channel used when a submitted
// confirmation disagrees with the record.
func (e *Engine) WithCorrector(c source.Corrector) *Engine {
	e.corrector = c
	return e
}

// HandleConfirmation processes one confirmation form submission. When
// every submitted field matches the record, the 24-hour flag is set and
// flushed. When any field disagrees, the submission is filed as a
// correction against the record and the flag stays unset so a human
// reviews it. Re-submitting an already-complete record is a no-op.
//
// The returned string is the human-readable outcome, suitable for the
// form's response page.
func (e *Engine) HandleConfirmation(ctx context.Context, sub domain.Submission) (string, error) {
	id := sub.WorkMarketNum

	row, err := e.findRow(ctx, id)
	if err != nil {
		return "", fmt.Errorf("confirmation WM#%s: %w", id, err)
	}

	done, err := e.src.GetFlag(row, domain.Flag24Hour)
	if err != nil {
		return "", err
	}
	if done {
		log.Printf("checkin: confirmation WM#%s ignored, already complete", id)
		return fmt.Sprintf("24 hour pre-call already complete for %s", id), nil
	}

	td, err := e.norm.Normalize(ctx, row)
	if err != nil {
		return "", fmt.Errorf("confirmation WM#%s: %w", id, err)
	}

	mismatches := diffSubmission(sub, td)
	if len(mismatches) > 0 {
		if e.corrector == nil {
			return "", fmt.Errorf("confirmation WM#%s: %d field(s) disagree and no correction channel is configured", id, len(mismatches))
		}
		title := fmt.Sprintf("Check-in correction WM#%s", id)
		comment := correctionComment(sub, mismatches)
		if err := e.corrector.AddCorrection(ctx, row, title, comment); err != nil {
			return "", fmt.Errorf("file correction WM#%s: %w", id, err)
		}
		log.Printf("checkin: confirmation WM#%s disagreed on %s, correction filed", id, strings.Join(mismatches, ", "))
		return fmt.Sprintf("correction recorded for %s", id), nil
	}

	if err := e.src.SetFlag(row, domain.Flag24Hour, true); err != nil {
		return "", err
	}
	if err := e.src.Flush(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.WriteBackFailure()
		}
		return "", err
	}
	log.Printf("checkin: 24 hour pre-call complete for WM#%s", id)
	return fmt.Sprintf("24 hour pre-call complete for %s", id), nil
}

// diffSubmission reports the field labels where the submission disagrees
// with the record. Comparison is whitespace-trimmed and exact otherwise.
func diffSubmission(sub domain.Submission, td domain.TechDetails) []string {
	var out []string
	check := func(label, got, want string) {
		if strings.TrimSpace(got) != strings.TrimSpace(want) {
			out = append(out, label)
		}
	}
	check(fieldTechName, sub.TechName, td.TechName)
	check(fieldDate, sub.Date, FormDate(td.ApptAt))
	check(fieldTime, sub.Time, FormTime(td.ApptAt))
	check(fieldLocation, sub.Location, td.Address)
	check(fieldSiteID, sub.SiteID, td.SiteID)
	return out
}

func correctionComment(sub domain.Submission, mismatches []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submitted values disagree on: %s\n", strings.Join(mismatches, ", "))
	fmt.Fprintf(&b, "%s: %s\n", fieldTechName, sub.TechName)
	fmt.Fprintf(&b, "%s: %s\n", fieldDate, sub.Date)
	fmt.Fprintf(&b, "%s: %s\n", fieldTime, sub.Time)
	fmt.Fprintf(&b, "%s: %s\n", fieldLocation, sub.Location)
	fmt.Fprintf(&b, "%s: %s\n", fieldSiteID, sub.SiteID)
	if strings.TrimSpace(sub.Comment) != "" {
		fmt.Fprintf(&b, "Tech comment: %s\n", sub.Comment)
	}
	return b.String()
}
