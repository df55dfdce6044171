package checkin

import (
	"net/url"
	"strings"
	"time"

	"github.com/djlord-it/checkin/internal/domain"
)

// Confirmation form field labels. The receiving form identifies fields by
// these exact names; they are part of the external contract.
const (
	fieldTechName   = "Tech Name"
	fieldDate       = "Date"
	fieldTime       = "Time"
	fieldLocation   = "Location"
	fieldSiteID     = "Site ID"
	fieldWorkOrder  = "Work Order"
	fieldWorkMarket = "Work Number - Please don't change"
)

// FormDate renders the appointment date the way the form shows it.
func FormDate(t time.Time) string { return t.Format("2006-01-02") }

// FormTime renders the appointment time the way the form shows it.
func FormTime(t time.Time) string { return t.Format("15:04") }

// BuildFormURL builds the confirmation link for one appointment.
//
// escapeHash works around a provider whose receiving form decodes the
// query twice: a literal '#' in a site identifier must arrive as %2523 so
// the second decode yields %23.
func BuildFormURL(base string, td domain.TechDetails, escapeHash bool) string {
	params := url.Values{}
	params.Set(fieldTechName, td.TechName)
	params.Set(fieldDate, FormDate(td.ApptAt))
	params.Set(fieldTime, FormTime(td.ApptAt))
	params.Set(fieldLocation, td.Address)
	params.Set(fieldSiteID, td.SiteID)
	params.Set(fieldWorkOrder, td.WorkOrderNum)
	params.Set(fieldWorkMarket, td.WorkMarketNum)

	// The form expects percent-encoded spaces, not '+'.
	encoded := strings.ReplaceAll(params.Encode(), "+", "%20")
	if escapeHash {
		encoded = strings.ReplaceAll(encoded, "%23", "%2523")
	}
	return base + "?" + encoded
}

// ParseSubmission maps a posted confirmation form back to a Submission.
func ParseSubmission(values url.Values) domain.Submission {
	return domain.Submission{
		TechName:      values.Get(fieldTechName),
		Date:          values.Get(fieldDate),
		Time:          values.Get(fieldTime),
		Location:      values.Get(fieldLocation),
		SiteID:        values.Get(fieldSiteID),
		WorkMarketNum: values.Get(fieldWorkMarket),
		Comment:       values.Get("Comment"),
	}
}
