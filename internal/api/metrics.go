package api

import (
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/shelfsync/shelfsync/internal/store"
)

// Cache states enumerated for the state gauge, in a fixed order so the
// exposition is stable between scrapes.
var allStates = []store.State{
	store.StateEmpty,
	store.StateLoading,
	store.StateFresh,
	store.StateStale,
	store.StateError,
}

// metrics returns GET /metrics — the engine's counters and gauges in
// Prometheus text exposition format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m := h.notifier.Metrics()
	families := buildFamilies(m, h.notifier.Subscribers())

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			slog.Error("api: metrics encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

// buildFamilies translates the store's metrics view into MetricFamily
// messages for the text encoder.
func buildFamilies(m store.Metrics, subscribers int) []*dto.MetricFamily {
	stateMetrics := make([]*dto.Metric, 0, len(allStates))
	for _, st := range allStates {
		v := 0.0
		if st == m.State {
			v = 1.0
		}
		stateMetrics = append(stateMetrics, gaugeMetric(v,
			labelPair("state", st.String())))
	}

	return []*dto.MetricFamily{
		{
			Name:   proto.String("shelfsync_cache_state"),
			Help:   proto.String("Current cache entry state; exactly one series is 1."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: stateMetrics,
		},
		{
			Name:   proto.String("shelfsync_snapshot_age_seconds"),
			Help:   proto.String("Age of the cached snapshot; 0 when no snapshot is held."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{gaugeMetric(m.Age.Seconds())},
		},
		{
			Name:   proto.String("shelfsync_collections"),
			Help:   proto.String("Number of collections in the cached snapshot."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{gaugeMetric(float64(m.Collections))},
		},
		{
			Name:   proto.String("shelfsync_subscribers"),
			Help:   proto.String("Active snapshot stream subscriptions."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{gaugeMetric(float64(subscribers))},
		},
		{
			Name: proto.String("shelfsync_fetches_total"),
			Help: proto.String("Fetch lifecycle events since process start."),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				counterMetric(float64(m.FetchesStarted), labelPair("event", "started")),
				counterMetric(float64(m.FetchesJoined), labelPair("event", "joined")),
				counterMetric(float64(m.FetchesDiscarded), labelPair("event", "discarded")),
				counterMetric(float64(m.FetchesFailed), labelPair("event", "failed")),
			},
		},
	}
}

func gaugeMetric(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func counterMetric(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label:   labels,
		Counter: &dto.Counter{Value: proto.Float64(v)},
	}
}

func labelPair(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}
