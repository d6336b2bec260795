package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

func newTestTelemetry(t *testing.T, buf *bytes.Buffer) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "debug"
	cfg.Events.EnableAsync = false

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	tel := &Telemetry{
		Logger:  NewLoggerTo(buf, cfg.Logging),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"zero buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"})

	logger.WithJobID("job-1").WithStepID("job-1:core:install").WithComponent("core").Info("hello")
	logger.Debug("hidden")

	out := buf.String()
	for _, want := range []string{`"job_id":"job-1"`, `"step_id":"job-1:core:install"`, `"component_id":"core"`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %s", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level")
	}
}

func TestObserverStepTransitions(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)
	obs := NewObserver(tel)

	var mu sync.Mutex
	var got []string
	tel.Events.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Level)
		mu.Unlock()
	}, FilterByJobID("job-1"))

	started := time.Now().Add(-time.Second)
	job := &engine.Job{ID: "job-1"}
	step := &engine.Step{ID: "s1", ComponentID: "core", Kind: engine.StepKindSync, StartedAt: &started}

	obs.StepTransition(job, step, engine.StepStatusPending, engine.StepStatusRunning)
	step.Reused = true
	obs.StepTransition(job, step, engine.StepStatusRunning, engine.StepStatusSucceeded)
	obs.StepTransition(job, step, engine.StepStatusSucceeded, engine.StepStatusCompensating)
	obs.StepTransition(job, step, engine.StepStatusCompensating, engine.StepStatusCompensated)

	m := tel.Metrics
	if v := testutil.ToFloat64(m.stepTransitions.WithLabelValues("sync", "succeeded")); v != 1 {
		t.Errorf("succeeded transitions = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.fingerprintHits.WithLabelValues("sync")); v != 1 {
		t.Errorf("fingerprint hits = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.compensations.WithLabelValues("sync", "compensated")); v != 1 {
		t.Errorf("compensations = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.stepDuration); n != 1 {
		t.Errorf("step duration series = %d, want 1", n)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventLevelInfo, EventLevelInfo, EventLevelWarning, EventLevelWarning}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event levels = %v, want %v", got, want)
	}
	if !strings.Contains(buf.String(), `"reused":true`) {
		t.Errorf("succeeded transition not logged with reused flag: %s", buf.String())
	}
}

func TestObserverAssetSynced(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)
	obs := NewObserver(tel)

	var events []Event
	tel.Events.Subscribe(func(e Event) { events = append(events, e) }, FilterByType(EventTypeAssetSynced))

	obs.AssetSynced("shared", assets.SyncResult{Path: "a.md", Action: assets.ActionCreated})
	obs.AssetSynced("shared", assets.SyncResult{Path: "b.md", Action: assets.ActionConflict})

	if v := testutil.ToFloat64(tel.Metrics.syncActions.WithLabelValues("shared", "conflict")); v != 1 {
		t.Errorf("conflict sync actions = %v, want 1", v)
	}
	if len(events) != 2 || events[1].Level != EventLevelWarning {
		t.Errorf("events = %+v, want two with the conflict at warning level", events)
	}
}

func TestJobContext(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)
	ctx := tel.WithContext(context.Background())

	job := &engine.Job{ID: "job-9", TargetPath: "/tmp/p", Policy: engine.FailurePolicyAbort}
	ctx = WithJobContext(ctx, job)
	if v := testutil.ToFloat64(tel.Metrics.activeJobs); v != 1 {
		t.Errorf("active jobs = %v, want 1", v)
	}

	job.Status = engine.JobStatusFailed
	err := engine.NewPermanentError("boom", nil).WithCode(engine.ErrCodeActionFailed)
	EndJobContext(ctx, job, time.Second, err)

	if v := testutil.ToFloat64(tel.Metrics.activeJobs); v != 0 {
		t.Errorf("active jobs = %v, want 0", v)
	}
	if v := testutil.ToFloat64(tel.Metrics.errorsByCode.WithLabelValues(engine.ErrCodeActionFailed)); v != 1 {
		t.Errorf("errors by code = %v, want 1", v)
	}
	if !strings.Contains(buf.String(), `"job_id":"job-9"`) {
		t.Errorf("job logger not scoped: %s", buf.String())
	}
}

func TestTracerStepSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := &Tracer{provider: provider, tracer: provider.Tracer("test")}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })

	var exec engine.Tracer = tracer
	ctx := context.Background()
	_, step := exec.StartStepSpan(ctx, "job-1", "core:install", "install")
	step.End()
	_, comp := exec.StartCompensationSpan(ctx, "job-1", "core:install", "install")
	comp.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	for i, want := range []string{"step.install", "compensate.install"} {
		if spans[i].Name() != want {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name(), want)
		}
		attrs := make(map[string]string)
		for _, kv := range spans[i].Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsString()
		}
		if attrs["job.id"] != "job-1" || attrs["step.id"] != "core:install" || attrs["step.kind"] != "install" {
			t.Errorf("span %q attributes = %v", want, attrs)
		}
	}
}

func TestStartOperation(t *testing.T) {
	var buf bytes.Buffer
	tel := newTestTelemetry(t, &buf)

	op := StartOperation(tel.WithContext(context.Background()), "catalog.publish")
	op.Logger.Info("published")
	op.End(nil)

	if op.Span == nil {
		t.Fatal("operation has no span")
	}
	if !strings.Contains(buf.String(), `"operation":"catalog.publish"`) {
		t.Errorf("operation logger not scoped: %s", buf.String())
	}

	bare := StartOperation(context.Background(), "catalog.publish")
	bare.End(nil)
	if bare.Span != nil {
		t.Error("operation without telemetry opened a span")
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, EnableAsync: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	var mu sync.Mutex
	var order []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		order = append(order, e.StepID)
		mu.Unlock()
	}, nil)

	for _, id := range []string{"a", "b", "c"} {
		if err := ep.PublishStepTransition("j", id, "core", "pending", "running", false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(order, "") != "abc" {
		t.Errorf("delivery order = %v, want a b c", order)
	}
	if err := ep.PublishJobStarted("j", "/tmp", 1); err == nil {
		t.Error("Publish() after Shutdown succeeded, want error")
	}
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordJobStarted("abort")
	m.RecordStepTransition("install", "running")
	m.RecordError("permanent", "X")
	if m.Registry() != nil {
		t.Error("disabled metrics have a registry")
	}
	if srv := m.StartMetricsServer(NopLogger()); srv != nil {
		t.Error("disabled metrics started a server")
	}
}
