// Package stats derives per-app and per-type build statistics from raw
// provider build records. All durations are expressed in days.
package stats

// AppStatistic summarizes the builds of one app over a report window.
type AppStatistic struct {
	Slug         string  `json:"slug"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	AvgBuildTime float64 `json:"avg_build_time"` // days
	AvgHoldTime  float64 `json:"avg_hold_time"`  // days
	Count        int     `json:"count"`
}

// TypeStatistic summarizes the hold time of all apps sharing a project type.
type TypeStatistic struct {
	Type        string  `json:"type"`
	AvgHoldTime float64 `json:"avg_hold_time"` // days
	Apps        int     `json:"apps"`
}
