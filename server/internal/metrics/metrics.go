package metrics

import (
	"bytes"
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/bus"
)

const namespace = "branchbus_"

// Source provides the stats to expose. *bus.Bus satisfies it.
type Source interface {
	Stats() bus.Stats
}

// Handler returns the /metrics handler for src.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var buf bytes.Buffer
		for _, mf := range Families(src.Stats()) {
			if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
				slog.Error("metrics: encode family", "family", mf.GetName(), "err", err)
				http.Error(w, "encode metrics", http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		w.Write(buf.Bytes()) //nolint:errcheck
	})
}

// Families converts st to metric families, sorted by name. Families without
// samples are left out.
func Families(st bus.Stats) []*dto.MetricFamily {
	conns := family("connections", "Live connections per branch and role.", dto.MetricType_GAUGE)
	for _, snap := range st.Presence {
		for _, role := range events.Roles {
			conns.Metric = append(conns.Metric, sample(dto.MetricType_GAUGE, float64(snap.PerRole[role]),
				label("branch", snap.BranchID), label("role", string(role))))
		}
	}

	published := family("events_published_total", "Events published per kind.", dto.MetricType_COUNTER)
	kinds := make([]string, 0, len(st.Router.Published))
	for k := range st.Router.Published {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		published.Metric = append(published.Metric, sample(dto.MetricType_COUNTER,
			float64(st.Router.Published[events.Kind(k)]), label("kind", k)))
	}

	all := []*dto.MetricFamily{
		conns,
		published,
		single("attached_transports", "Attached transports, joined or not.", dto.MetricType_GAUGE, float64(st.Attached)),
		single("channels", "Channel records, including empty ones awaiting compaction.", dto.MetricType_GAUGE, float64(st.Channels)),
		single("deliveries_total", "Frames written to transports.", dto.MetricType_COUNTER, float64(st.Router.Deliveries)),
		single("delivery_failures_total", "Frames a transport refused.", dto.MetricType_COUNTER, float64(st.Router.Failures)),
		single("events_dropped_total", "Events published to a channel with no members.", dto.MetricType_COUNTER, float64(st.Router.Dropped)),
		single("stale_suppressed_total", "Sends suppressed by the per-entity sequence guard.", dto.MetricType_COUNTER, float64(st.Router.Stale)),
		single("reconnects_total", "Registrations detected as reconnects.", dto.MetricType_COUNTER, float64(st.Reconnects)),
	}
	out := all[:0]
	for _, mf := range all {
		if len(mf.Metric) > 0 {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// --- helpers ---

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: ptr(namespace + name),
		Help: ptr(help),
		Type: typ.Enum(),
	}
}

func single(name, help string, typ dto.MetricType, v float64) *dto.MetricFamily {
	mf := family(name, help, typ)
	mf.Metric = []*dto.Metric{sample(typ, v)}
	return mf
}

func sample(typ dto.MetricType, v float64, labels ...*dto.LabelPair) *dto.Metric {
	m := &dto.Metric{Label: labels}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: ptr(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: ptr(v)}
	}
	return m
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func ptr[T any](v T) *T { return &v }
