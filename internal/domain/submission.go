package domain

// Submission carries one confirmation form post back from a technician.
// Field values arrive exactly as shown on the form, so comparisons against
// the normalized record happen on the rendered representations.
type Submission struct {
	TechName      string
	Date          string // form-rendered appointment date
	Time          string // form-rendered appointment time
	Location      string
	SiteID        string
	WorkMarketNum string
	Comment       string // free-text correction, empty when nothing to fix
}
