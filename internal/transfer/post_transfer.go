package transfer

import (
	"encoding/json"
	"time"
)

type PostCreation struct {
	AccountID       int64     `json:"account_id"`
	PostType        string    `json:"post_type"`
	MediaURL        string    `json:"media_url"`
	Caption         string    `json:"caption"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	ClientRequestID string    `json:"client_request_id"`
	OverrideSpacing bool      `json:"override_spacing"`
}

// BatchRequest drives both preflight and commit. WeeklyPlan accepts a
// 7-element Mon..Sun list or a weekday-keyed map. Autoshift defaults to true
// when omitted.
type BatchRequest struct {
	AccountID         int64           `json:"account_id"`
	StartDate         string          `json:"start_date"`
	EndDate           string          `json:"end_date"`
	WeeklyPlan        json.RawMessage `json:"weekly_plan"`
	MediaURLs         []string        `json:"media_urls"`
	Timezone          string          `json:"timezone"`
	Autoshift         *bool           `json:"autoshift"`
	MinSpacingMinutes int             `json:"min_spacing_minutes"`
	Randomize         bool            `json:"randomize"`
	RandomWindowStart string          `json:"random_window_start"`
	RandomWindowEnd   string          `json:"random_window_end"`
	OverrideConflicts bool            `json:"override_conflicts"`
}

func (b *BatchRequest) AutoshiftEnabled() bool {
	return b.Autoshift == nil || *b.Autoshift
}

type SkipEntry struct {
	Date              string `json:"date"`
	Reason            string `json:"reason"`
	IntendedLocalTime string `json:"intended_local_time"`
	IntendedUTCTime   string `json:"intended_utc_time"`
	MediaURL          string `json:"media_url"`
	Note              string `json:"note"`
}

type PerDayResult struct {
	Date      string `json:"date"`
	Requested int    `json:"requested"`
	Created   int    `json:"created"`
}

type WindowInfo struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

type BatchResult struct {
	Created           int            `json:"created"`
	CreatedIDs        []int64        `json:"created_ids"`
	PerDay            []PerDayResult `json:"per_day"`
	DailyLimit        int            `json:"daily_limit"`
	Timezone          string         `json:"timezone"`
	Autoshift         bool           `json:"autoshift"`
	MinSpacingMinutes int            `json:"min_spacing_minutes"`
	Skipped           []SkipEntry    `json:"skipped"`
	SkippedReportURL  string         `json:"skipped_report_url,omitempty"`
	Window            WindowInfo     `json:"window"`
}

type PreflightResult struct {
	Slots             []string   `json:"slots"`
	Conflicts         []string   `json:"conflicts"`
	MinSpacingMinutes int        `json:"min_spacing_minutes"`
	Autoshift         bool       `json:"autoshift"`
	Timezone          string     `json:"timezone"`
	DailyLimit        int        `json:"daily_limit"`
	Window            WindowInfo `json:"window"`
}
