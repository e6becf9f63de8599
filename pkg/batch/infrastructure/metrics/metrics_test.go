package metrics_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	infra "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
)

func finishedRun(t *testing.T) (*model.JobExecution, *model.StepExecution) {
	t.Helper()
	ji := model.NewJobInstance("importJob", model.NewJobParameters())
	je := model.NewJobExecution(ji, ji.Parameters)
	je.MarkAsStarted()
	se := model.NewStepExecution("load", je)
	se.MarkAsStarted()
	se.ReadCount, se.WriteCount, se.CommitCount = 10, 8, 2
	se.MarkAsCompleted()
	je.MarkAsCompleted(model.ExitStatusCompleted)
	return je, se
}

func TestPrometheusRecorder(t *testing.T) {
	r := infra.NewPrometheusRecorder()
	je, se := finishedRun(t)
	ctx := port.WithStepExecution(context.Background(), se)

	r.RecordJobStart(ctx, je)
	r.RecordItemRead(ctx, "load", 10)
	r.RecordItemWrite(ctx, "load", 8)
	r.RecordItemSkip(ctx, "load", "process", "IllegalArgument")
	r.RecordItemSkip(ctx, "load", "read", "")
	r.RecordChunkCommit(ctx, "load", 8)
	r.RecordChunkRollback(ctx, "load")
	r.RecordStepEnd(ctx, se)
	r.RecordJobEnd(ctx, je)

	body := scrape(t, r)
	for _, want := range []string{
		`chunkbatch_items_read_total{job_name="importJob",step_name="load"} 10`,
		`chunkbatch_items_written_total{job_name="importJob",step_name="load"} 8`,
		`chunkbatch_items_skipped_total{job_name="importJob",phase="process",reason="IllegalArgument",step_name="load"} 1`,
		`chunkbatch_items_skipped_total{job_name="importJob",phase="read",reason="unclassified",step_name="load"} 1`,
		`chunkbatch_chunk_commits_total{job_name="importJob",step_name="load"} 1`,
		`chunkbatch_chunk_rollbacks_total{job_name="importJob",step_name="load"} 1`,
		`chunkbatch_step_executions_total{job_name="importJob",status="COMPLETED",step_name="load"} 1`,
		`chunkbatch_job_executions_total{job_name="importJob",status="COMPLETED"} 1`,
		`chunkbatch_job_running{job_name="importJob"} 0`,
	} {
		assert.Contains(t, body, want)
	}
	n, err := testutil.GatherAndCount(r.Registry(), "chunkbatch_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func scrape(t *testing.T, r *infra.PrometheusRecorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestOpenTelemetryTracer_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := infra.NewOpenTelemetryTracerWith(tp.Tracer("test"))

	ji := model.NewJobInstance("importJob", model.NewJobParameters())
	je := model.NewJobExecution(ji, ji.Parameters)
	se := model.NewStepExecution("load", je)

	ctx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(ctx, se)
	chunkCtx, endChunk := tracer.StartChunkSpan(stepCtx, se, 1)
	tracer.RecordEvent(chunkCtx, "skip", map[string]interface{}{"phase": "process", "count": 1})
	endChunk()
	tracer.RecordError(stepCtx, "writer", errors.New("disk full"))
	se.MarkAsStarted()
	se.MarkAsFailed(errors.New("disk full"))
	endStep()
	je.MarkAsStarted()
	je.MarkAsFailed(errors.New("disk full"))
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 3)
	chunk, step, job := spans[0], spans[1], spans[2]

	assert.Equal(t, "chunkbatch.chunk load", chunk.Name())
	require.Len(t, chunk.Events(), 1)
	assert.Equal(t, "skip", chunk.Events()[0].Name)
	assert.Equal(t, step.SpanContext().SpanID(), chunk.Parent().SpanID())

	assert.Equal(t, "chunkbatch.step", step.Name())
	assert.Equal(t, codes.Error, step.Status().Code)
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())

	assert.Equal(t, "chunkbatch.job", job.Name())
	assert.Equal(t, codes.Error, job.Status().Code)
	attrs := map[string]string{}
	for _, kv := range job.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "importJob", attrs["chunkbatch.job.name"])
	assert.Equal(t, "FAILED", attrs["chunkbatch.status"])
}

func TestOpenTelemetryRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := infra.NewOpenTelemetryRecorderWith(mp.Meter("test"))

	je, se := finishedRun(t)
	ctx := port.WithStepExecution(context.Background(), se)
	r.RecordItemRead(ctx, "load", 10)
	r.RecordItemWrite(ctx, "load", 8)
	r.RecordItemFilter(ctx, "load", 0)
	r.RecordItemRetry(ctx, "load", "write", "SQL")
	r.RecordChunkCommit(ctx, "load", 8)
	r.RecordStepEnd(ctx, se)
	r.RecordJobEnd(ctx, je)
	r.RecordDuration(ctx, "export", 150*time.Millisecond, map[string]string{"job_name": "importJob"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	items := findMetric(rm, "chunkbatch.items")
	require.NotNil(t, items)
	sum, ok := items.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(18), total)
	assert.Len(t, sum.DataPoints, 2)

	for _, name := range []string{"chunkbatch.retries", "chunkbatch.chunks", "chunkbatch.job.executions"} {
		m := findMetric(rm, name)
		require.NotNil(t, m, name)
		assert.Equal(t, int64(1), m.Data.(metricdata.Sum[int64]).DataPoints[0].Value, name)
	}
	for _, name := range []string{"chunkbatch.job.duration", "chunkbatch.step.duration", "chunkbatch.operation.duration"} {
		m := findMetric(rm, name)
		require.NotNil(t, m, name)
		assert.Equal(t, uint64(1), m.Data.(metricdata.Histogram[float64]).DataPoints[0].Count, name)
	}
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCompositeRecorder_FansOut(t *testing.T) {
	a, b := infra.NewPrometheusRecorder(), infra.NewPrometheusRecorder()
	c := infra.CompositeRecorder{a, b}
	_, se := finishedRun(t)
	c.RecordItemRead(port.WithStepExecution(context.Background(), se), "load", 3)

	for _, r := range []*infra.PrometheusRecorder{a, b} {
		assert.True(t, strings.Contains(scrape(t, r), `chunkbatch_items_read_total{job_name="importJob",step_name="load"} 3`))
	}
}

func TestNewTelemetry(t *testing.T) {
	tel, err := infra.NewTelemetry(context.Background(), config.TelemetryConfig{ServiceName: "test"})
	require.NoError(t, err)
	assert.Nil(t, tel.TracerProvider)
	assert.Nil(t, tel.MeterProvider)
	assert.NotNil(t, tel.Tracer())
	assert.NoError(t, tel.Shutdown(context.Background()))

	_, err = infra.NewTelemetry(context.Background(), config.TelemetryConfig{
		Tracing:  true,
		Exporter: config.ExporterConfig{Protocol: "zipkin"},
	})
	assert.ErrorContains(t, err, "unsupported exporter protocol")
}

func TestAsyncRecorder_DrainsOnClose(t *testing.T) {
	prom := infra.NewPrometheusRecorder()
	async := infra.NewAsyncRecorder(prom, 1000)
	_, se := finishedRun(t)
	ctx, cancel := context.WithCancel(port.WithStepExecution(context.Background(), se))
	for i := 0; i < 50; i++ {
		async.RecordItemWrite(ctx, "load", 2)
	}
	cancel()
	async.Close()
	async.RecordItemWrite(ctx, "load", 1000)

	assert.Contains(t, scrape(t, prom), `chunkbatch_items_written_total{job_name="importJob",step_name="load"} 100`)
}
