package dto

// QuotaResponseDTO answers a pre-check. Remaining and Limit are -1 when unlimited.
type QuotaResponseDTO struct {
	Action    string `json:"action"`
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
}

// UsageRecordDTO books one action that has already happened.
type UsageRecordDTO struct {
	Action string `json:"action" validate:"required,oneof=message document"`
}

type UsageRecordResponseDTO struct {
	Status string `json:"status"`
}

type PerformanceRecordDTO struct {
	LatencyMs *float64 `json:"latency_ms" validate:"required,gte=0"`
	Success   *bool    `json:"success" validate:"required"`
}

type RatingDTO struct {
	Score int `json:"score" validate:"required,min=1,max=5"`
}
