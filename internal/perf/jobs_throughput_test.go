package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-receivables/internal/jobs"
	"github.com/odyssey-erp/odyssey-receivables/jobs"
)

type agingRefresher struct {
	docs  []ar.Document
	fails int
}

func (r *agingRefresher) RefreshAging(_ context.Context, asOf time.Time) (ar.AgingSummary, error) {
	if r.fails > 0 {
		r.fails--
		return ar.AgingSummary{}, errors.New("redis timeout")
	}
	return ar.ComputeAging(r.docs, asOf), nil
}

func TestAgingRefreshThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	refresher := &agingRefresher{docs: portfolio(5_000), fails: 2}
	job := jobs.NewARAgingRefreshJob(refresher, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	task, err := jobs.NewARAgingRefreshTask(asOf)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	for i := 0; i < 30; i++ {
		_ = job.Handle(context.Background(), task)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	success := metricValue(t, families, "odyssey_jobs_total", map[string]string{"job": jobs.TaskARAgingRefresh, "status": "success"})
	failure := metricValue(t, families, "odyssey_jobs_total", map[string]string{"job": jobs.TaskARAgingRefresh, "status": "failure"})
	if success != 28 || failure != 2 {
		t.Fatalf("unexpected outcome counts: success=%v failure=%v", success, failure)
	}
	items := metricValue(t, families, "odyssey_job_items_total", map[string]string{"job": jobs.TaskARAgingRefresh})
	if items != 28*5_000 {
		t.Fatalf("expected every aged document counted, got %v", items)
	}
	if mean := histogramMean(t, families, "odyssey_job_duration_seconds", map[string]string{"job": jobs.TaskARAgingRefresh}); mean > 2.0 {
		t.Fatalf("aging refresh duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, metric := range find(families, name, labels) {
		switch {
		case metric.GetCounter() != nil:
			return metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, metric := range find(families, name, labels) {
		hist := metric.GetHistogram()
		if hist == nil || hist.GetSampleCount() == 0 {
			t.Fatalf("histogram %s missing samples", name)
		}
		return hist.GetSampleSum() / float64(hist.GetSampleCount())
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func find(families []*dto.MetricFamily, name string, labels map[string]string) []*dto.Metric {
	var out []*dto.Metric
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok {
					if lp.GetValue() != want {
						break
					}
					matched++
				}
			}
			if matched == len(labels) {
				out = append(out, metric)
			}
		}
	}
	return out
}
