package aggregate

// WindowResponse wraps a windowed chart.
type WindowResponse struct {
	Window  string `json:"window"`
	Label   string `json:"label"`
	Frame   *Frame `json:"frame"`
	Trend   *Trend `json:"trend,omitempty"`
	Drivers []Row  `json:"drivers,omitempty"`
}

// EfficiencyResponse is the monthly efficiency view.
type EfficiencyResponse struct {
	Month    string           `json:"month"`
	Carriers []CarrierSummary `json:"carriers"`
	Daily    *Frame           `json:"daily_fuel"`
}

// LeaderboardResponse is the monthly per-carrier driver ranking.
type LeaderboardResponse struct {
	Month    string               `json:"month"`
	Carriers []CarrierLeaderboard `json:"carriers"`
}
