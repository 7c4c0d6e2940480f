package export

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"quotaledger/internal/model"
	"quotaledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalytics struct {
	snap *model.MetricsSnapshot
	err  error
	got  model.TimeRange
}

func (s *stubAnalytics) ComputeMetrics(_ context.Context, r model.TimeRange) (*model.MetricsSnapshot, error) {
	s.got = r
	return s.snap, s.err
}

var _ service.AnalyticsService = (*stubAnalytics)(nil)

type memPutter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memPutter) PutObject(_ context.Context, key string, body []byte, contentType string) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects, m.types = map[string][]byte{}, map[string]string{}
	}
	m.objects[key] = body
	m.types[key] = contentType
	return nil
}

func TestExport_UploadsSnapshot(t *testing.T) {
	analytics := &stubAnalytics{snap: &model.MetricsSnapshot{Range: "30d", TotalUsers: 12, PremiumUsers: 3}}
	putter := &memPutter{}
	e := NewExporter(analytics, putter, "/analytics/", model.Last30Days, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 5, 0, time.UTC) }

	key, err := e.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analytics/2026/03/10/metrics-30d-020005.json", key)
	assert.Equal(t, model.Last30Days, analytics.got)
	assert.Equal(t, "application/json", putter.types[key])

	var got map[string]any
	require.NoError(t, json.Unmarshal(putter.objects[key], &got))
	assert.Equal(t, float64(12), got["total_users"])
	assert.Equal(t, float64(3), got["premium_users"])
}

func TestExport_PropagatesFailures(t *testing.T) {
	e := NewExporter(&stubAnalytics{err: errors.New("db down")}, &memPutter{}, "", model.AllTime, zerolog.Nop())
	_, err := e.Export(context.Background())
	assert.ErrorContains(t, err, "db down")

	e = NewExporter(&stubAnalytics{snap: &model.MetricsSnapshot{}}, &memPutter{err: errors.New("denied")}, "", model.AllTime, zerolog.Nop())
	_, err = e.Export(context.Background())
	assert.ErrorContains(t, err, "denied")
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	e := NewExporter(nil, nil, "", model.Last7Days, zerolog.Nop())
	assert.Equal(t, "2026/01/02/metrics-7d-030405.json", e.objectKey(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}
