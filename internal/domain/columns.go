package domain

// Column names of the appointment tracker. The source identifies columns
// by ID internally; everything above the source layer refers to them by
// these titles.
const (
	ColSiteID     = "Site ID"
	ColTechName   = "Tech Name"
	ColTechPhone  = "Tech Phone #"
	ColAddress    = "Address"
	ColCity       = "City"
	ColState      = "State"
	ColZip        = "Zip Code"
	ColApptDate   = "Secured Date"
	ColApptTime   = "Secured Time"
	ColWorkMarket = "Work Market #"
	ColWorkOrder  = "Work Order #"
)

// Completion flags. Set only after a confirmed successful send or by the
// out-of-band correction flow; never unset by this process.
const (
	Flag24Hour = "24 Hour Call"
	Flag1Hour  = "1 Hour Call"
)
