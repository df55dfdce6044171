package domain

import "time"

// TechDetails is the normalized, validated view of one appointment record.
// Immutable once constructed; the Normalizer is the only producer.
type TechDetails struct {
	SiteID      string
	TechName    string
	TechContact string // E.164, validated at construction
	Address     string // "street, city, state, zip"
	ApptAt      time.Time

	// WorkMarketNum uniquely identifies the appointment record within the
	// source at a point in time. Records can be edited, so it is not
	// globally unique over time.
	WorkMarketNum string
	WorkOrderNum  string // optional
}
