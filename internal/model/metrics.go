package model

import (
	"fmt"
	"strings"
	"time"

	"quotaledger/internal/money"
)

// TimeRange is an analytics window in whole days. Zero days means all time.
type TimeRange struct {
	Days int
}

var (
	Last7Days  = TimeRange{Days: 7}
	Last30Days = TimeRange{Days: 30}
	Last90Days = TimeRange{Days: 90}
	AllTime    = TimeRange{}
)

// ParseTimeRange accepts the short forms ("7d", "30d", "90d", "all") and the
// dashboard labels ("Last 7 days", "All time").
func ParseTimeRange(s string) (TimeRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "7d", "7", "last 7 days":
		return Last7Days, nil
	case "", "30d", "30", "last 30 days":
		return Last30Days, nil
	case "90d", "90", "last 90 days":
		return Last90Days, nil
	case "all", "all time", "all_time":
		return AllTime, nil
	}
	return TimeRange{}, fmt.Errorf("unsupported time range %q", s)
}

func (r TimeRange) IsAllTime() bool {
	return r.Days <= 0
}

// Since returns the start of the window, or nil for all time.
func (r TimeRange) Since(now time.Time) *time.Time {
	if r.IsAllTime() {
		return nil
	}
	t := now.Add(-time.Duration(r.Days) * 24 * time.Hour)
	return &t
}

func (r TimeRange) String() string {
	if r.IsAllTime() {
		return "all"
	}
	return fmt.Sprintf("%dd", r.Days)
}

// MetricsSnapshot is the read-only analytics view. Rates are fractions in [0, 1]
// except growth, which may exceed 1.
type MetricsSnapshot struct {
	Range       string    `json:"range"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalUsers    int     `json:"total_users"`
	NewUsers      int     `json:"new_users"`
	ActiveUsers7  int     `json:"active_users_7d"`
	ActiveUsers30 int     `json:"active_users_30d"`
	ChurnedUsers  int     `json:"churned_users"`
	ChurnRate     float64 `json:"churn_rate"`
	GrowthRate    float64 `json:"growth_rate"`

	TotalMessages       int     `json:"total_messages"`
	TotalDocuments      int     `json:"total_documents"`
	AvgMessagesPerUser  float64 `json:"avg_messages_per_user"`
	AvgDocumentsPerUser float64 `json:"avg_documents_per_user"`
	PeakHour            int     `json:"peak_hour"`
	PeakHourMessages    int     `json:"peak_hour_messages"`

	PremiumUsers   int          `json:"premium_users"`
	FreeUsers      int          `json:"free_users"`
	MRR            money.Amount `json:"mrr"`
	ARPU           money.Amount `json:"arpu"`
	EstimatedLTV   money.Amount `json:"estimated_ltv"`
	ConversionRate float64      `json:"conversion_rate"`
	Conversions    int          `json:"conversions"`
	Revenue        money.Amount `json:"revenue"`

	Requests        int     `json:"requests"`
	AvgResponseMs   float64 `json:"avg_response_ms"`
	SuccessRate     float64 `json:"success_rate"`
	ErrorRate       float64 `json:"error_rate"`
	Ratings         int     `json:"ratings"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
}
