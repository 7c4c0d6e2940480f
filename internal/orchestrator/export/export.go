// Package export writes analytics snapshots to object storage for offline reporting.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"quotaledger/internal/model"
	"quotaledger/internal/service"

	"github.com/rs/zerolog"
)

// ObjectPutter stores a single object.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

type Exporter struct {
	analytics service.AnalyticsService
	putter    ObjectPutter
	prefix    string
	window    model.TimeRange
	logger    zerolog.Logger
	now       func() time.Time
}

func NewExporter(analytics service.AnalyticsService, putter ObjectPutter, prefix string, window model.TimeRange, logger zerolog.Logger) *Exporter {
	return &Exporter{
		analytics: analytics,
		putter:    putter,
		prefix:    strings.Trim(prefix, "/"),
		window:    window,
		logger:    logger.With().Str("orchestrator", "export").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export computes one snapshot and uploads it. It returns the object key.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	snap, err := e.analytics.ComputeMetrics(ctx, e.window)
	if err != nil {
		return "", fmt.Errorf("compute metrics: %w", err)
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := e.objectKey(e.now())
	if err := e.putter.PutObject(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	e.logger.Info().Str("key", key).Str("range", e.window.String()).Int("total_users", snap.TotalUsers).Msg("Analytics snapshot exported")
	return key, nil
}

// objectKey lays snapshots out as <prefix>/YYYY/MM/DD/metrics-<range>-<HHMMSS>.json.
func (e *Exporter) objectKey(at time.Time) string {
	name := fmt.Sprintf("metrics-%s-%s.json", e.window.String(), at.Format("150405"))
	return path.Join(e.prefix, at.Format("2006/01/02"), name)
}
