package perf

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/iers-platform/iers/internal/audit"
	jobmetrics "github.com/iers-platform/iers/internal/jobs"
	"github.com/iers-platform/iers/internal/sla"
)

type backlogStore struct {
	mu        sync.Mutex
	backlog   map[string][]int64
	escalated map[string]bool
}

func newBacklogStore(perRule int) *backlogStore {
	s := &backlogStore{backlog: map[string][]int64{}, escalated: map[string]bool{}}
	for _, rule := range sla.DefaultRules() {
		ids := make([]int64, perRule)
		for i := range ids {
			ids[i] = int64(i + 1)
		}
		s.backlog[rule.Name] = ids
	}
	return s
}

func (s *backlogStore) ListBreached(ctx context.Context, rule sla.Rule, now time.Time, limit int) ([]sla.Breach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sla.Breach
	for _, id := range s.backlog[rule.Name] {
		if s.escalated[key(rule.Name, id)] {
			continue
		}
		out = append(out, sla.Breach{ID: id, DueAt: now.Add(-time.Hour)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *backlogStore) MarkEscalated(ctx context.Context, rule sla.Rule, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(rule.Name, id)
	if s.escalated[k] {
		return false, nil
	}
	s.escalated[k] = true
	return true, nil
}

func key(rule string, id int64) string {
	return rule + "/" + strconv.FormatInt(id, 10)
}

func TestSLAAuditBacklogThroughput(t *testing.T) {
	const perRule = 400
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	store := newBacklogStore(perRule)
	engine, err := sla.NewEngine(store, audit.Discard{}, sla.DefaultRules(), quiet(), sla.WithMetrics(metrics))
	if err != nil {
		t.Fatal(err)
	}

	tracker := metrics.Track(sla.JobName)
	summary, err := engine.RunAudit(context.Background())
	if endErr := tracker.End(err); endErr != nil {
		t.Fatalf("audit failed: %v", endErr)
	}
	if want := perRule * len(sla.DefaultRules()); summary.Escalated != want {
		t.Fatalf("escalated %d, want %d", summary.Escalated, want)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, rule := range sla.DefaultRules() {
		if got := metricValue(t, families, "iers_sla_escalations_total", map[string]string{"rule": rule.Name}); got != perRule {
			t.Fatalf("rule %s escalations %v, want %d", rule.Name, got, perRule)
		}
	}
	if mean := histogramMean(t, families, "iers_job_duration_seconds", map[string]string{"job": sla.JobName}); mean > 2.0 {
		t.Fatalf("audit pass above budget: %f", mean)
	}

	second, err := engine.RunAudit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.Escalated != 0 {
		t.Fatalf("second pass escalated %d records", second.Escalated)
	}
}

func BenchmarkSLAAuditEmptyPass(b *testing.B) {
	store := newBacklogStore(0)
	engine, err := sla.NewEngine(store, audit.Discard{}, sla.DefaultRules(), quiet())
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.RunAudit(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; !ok || lp.GetValue() != val {
			return false
		}
	}
	return true
}
