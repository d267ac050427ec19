package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveRun("expiry", 250*time.Millisecond, nil)
	m.ObserveRun("expiry", time.Second, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, nil)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("expiry", resultSuccess)); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("expiry", resultFailure)); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("unknown")); got <= 0 {
		t.Fatalf("expected last success timestamp for unnamed job, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if sum, err := fetchHistogramSum(mfs, "farmcart_cron_job_duration_seconds", "job", "expiry"); err != nil || sum != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %v err=%v", sum, err)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	m := NewCronJobMetrics(nil)
	m.ObserveRun("expiry", time.Second, nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	m, err := findSeries(mfs, name, label, value)
	if err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	m, err := findSeries(mfs, name, label, value)
	if err != nil {
		return 0, err
	}
	return m.GetHistogram().GetSampleSum(), nil
}

func findSeries(mfs []*dto.MetricFamily, name, label, value string) (*dto.Metric, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m, nil
				}
			}
		}
		return nil, fmt.Errorf("%s has no series with %s=%s", name, label, value)
	}
	return nil, fmt.Errorf("metric %s not found", name)
}
