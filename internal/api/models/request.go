package models

// DailyJobRequest asks for the daily record of one device and day.
type DailyJobRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Date     string `json:"date" binding:"required"` // YYYY-MM-DD
}

// MonthlyJobRequest asks for the monthly rollup of one device.
type MonthlyJobRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	Year     int    `json:"year" binding:"required,min=1"`
	Month    int    `json:"month" binding:"required,min=1,max=12"`
}

// RangeJobRequest asks for every daily record of a date range. With neither device_id nor
// institution_id the range covers all active devices.
type RangeJobRequest struct {
	DeviceID      string `json:"device_id,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
	StartDate     string `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate       string `json:"end_date" binding:"required"`   // YYYY-MM-DD
	Backfill      bool   `json:"backfill,omitempty"`            // also roll up the months touched
	Async         bool   `json:"async,omitempty"`               // enqueue instead of running inline
}

// IndicatorQuery filters stored indicator records.
type IndicatorQuery struct {
	DeviceID string `form:"device_id" binding:"required"`
	Period   string `form:"period,omitempty"` // daily (default) or monthly
	From     string `form:"from" binding:"required"`
	To       string `form:"to" binding:"required"`
	Format   string `form:"format,omitempty"` // json (default) or csv
}

// DeviceQuery filters the device list.
type DeviceQuery struct {
	InstitutionID string `form:"institution_id,omitempty"`
	Category      string `form:"category,omitempty"`
}
