// Package domain holds DTOs for the stats http and service contracts
package domain

// TotalsRow is one aggregated (key_index, model) accounting bucket, the
// shape returned by GET /stats and GET /stats/24h
type TotalsRow struct {
	KeyIndex         int    `json:"key_index" example:"0"`
	Model            string `json:"model" example:"gpt-oss:20b"`
	PromptTokens     int64  `json:"prompt_tokens" example:"128"`
	CompletionTokens int64  `json:"completion_tokens" example:"256"`
}

// MinuteInput is the query input for GET /stats/minute
type MinuteInput struct {
	Window int `json:"window" validate:"omitempty,min=1,max=1440" example:"60"`
}

// MinuteRow is one per-minute, per-key token bucket
type MinuteRow struct {
	MinuteUTC   string `json:"minute_utc" example:"2026-07-29T13:05:00Z"`
	KeyIndex    int    `json:"key_index" example:"0"`
	TotalTokens int64  `json:"total_tokens" example:"384"`
}
