package models

import "time"

// Dimension поле клика, по которому группируется аналитика
type Dimension string

const (
	DimensionCountry Dimension = "country"
	DimensionDevice  Dimension = "device"
	DimensionBrowser Dimension = "browser"
)

type Summary struct {
	TotalLinks  int64     `json:"totalUrls"`
	TotalClicks int64     `json:"totalClicks"`
	ClicksSince int64     `json:"clicksThisPeriod"`
	Since       time.Time `json:"since"`
}

type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type DailyClickStats struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

type Dashboard struct {
	Summary
	TopCountries []GroupCount      `json:"topCountries"`
	TopDevices   []GroupCount      `json:"topDevices"`
	TopBrowsers  []GroupCount      `json:"topBrowsers"`
	ClicksByDay  []DailyClickStats `json:"clicksByDay"`
	RecentClicks []RecentClick     `json:"recentClicks"`
}
