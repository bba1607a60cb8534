package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/proxyprof/internal/chrometrace"
	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/export"
	"github.com/getsentry/proxyprof/internal/metrics"
	"github.com/getsentry/proxyprof/internal/nodetree"
	"github.com/getsentry/proxyprof/internal/proxy"
	"github.com/getsentry/proxyprof/internal/speedscope"
	"github.com/getsentry/proxyprof/internal/testutil"
	"github.com/getsentry/proxyprof/internal/timeutil"
)

const ms = time.Millisecond

type KafkaWriterMock struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (k *KafkaWriterMock) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.messages = append(k.messages, msgs...)
	return nil
}

func (k *KafkaWriterMock) Close() error {
	return nil
}

func newTestEnvironment(t *testing.T, exporters ...export.Exporter) (*environment, http.Handler) {
	t.Helper()
	registry := classprofile.NewRegistry()
	spam := registry.ForClass("Spam")
	spam.Observe([]string{"a", "b"}, 1*ms)
	spam.Observe([]string{"a"}, 3*ms)
	registry.ForClass("Eggs")

	env := &environment{
		clock:     timeutil.NewManualClock(time.Unix(1700000000, 0)),
		metrics:   metrics.NewAggregator(10, 10),
		registry:  registry,
		trace:     chrometrace.NewRecorder(100),
		exporters: exporters,
	}
	router, err := env.newRouter()
	if err != nil {
		t.Fatalf("we should be able to build the router: %v", err)
	}
	return env, router
}

func do(t *testing.T, h http.Handler, method, url string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := gojson.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("we should be able to decode the response: %v", err)
	}
}

func TestGetHealth(t *testing.T) {
	_, h := newTestEnvironment(t)
	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
}

func TestGetClasses(t *testing.T) {
	_, h := newTestEnvironment(t)
	var classes []string
	decode(t, do(t, h, http.MethodGet, "/classes", nil), &classes)
	if diff := testutil.Diff(classes, []string{"Spam", "Eggs"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestGetFlat(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want []classprofile.FlatStat
	}{
		{
			name: "first seen",
			url:  "/classes/Spam/flat",
			want: []classprofile.FlatStat{
				{Method: "b", Calls: 1, TotalTime: 1 * ms, AvgTime: 1 * ms},
				{Method: "a", Calls: 1, TotalTime: 3 * ms, AvgTime: 3 * ms},
			},
		},
		{
			name: "by method",
			url:  "/classes/Spam/flat?sort=method",
			want: []classprofile.FlatStat{
				{Method: "a", Calls: 1, TotalTime: 3 * ms, AvgTime: 3 * ms},
				{Method: "b", Calls: 1, TotalTime: 1 * ms, AvgTime: 1 * ms},
			},
		},
		{
			name: "empty class",
			url:  "/classes/Eggs/flat",
			want: []classprofile.FlatStat{},
		},
	}

	_, h := newTestEnvironment(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var stats []classprofile.FlatStat
			decode(t, do(t, h, http.MethodGet, test.url, nil), &stats)
			if diff := testutil.Diff(stats, test.want, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		status int
	}{
		{name: "unknown class", method: http.MethodGet, url: "/classes/Ham/flat", status: http.StatusNotFound},
		{name: "unknown sort key", method: http.MethodGet, url: "/classes/Spam/flat?sort=eggs", status: http.StatusBadRequest},
		{name: "unknown order", method: http.MethodGet, url: "/classes/Spam/tree?order=eggs", status: http.StatusBadRequest},
		{name: "unknown class reset", method: http.MethodDelete, url: "/classes/Ham", status: http.StatusNotFound},
		{name: "no exporter", method: http.MethodPost, url: "/export", status: http.StatusServiceUnavailable},
	}

	_, h := newTestEnvironment(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if w := do(t, h, test.method, test.url, nil); w.Code != test.status {
				t.Fatalf("expected status %d, got %d", test.status, w.Code)
			}
		})
	}
}

func TestGetTree(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want []classprofile.TreeStat
	}{
		{
			name: "first seen",
			url:  "/classes/Spam/tree",
			want: []classprofile.TreeStat{
				{Level: 0, Method: "a", Calls: 1, Time: 3 * ms, Percent: 100},
				{Level: 1, Method: "b", Calls: 1, Time: 1 * ms, Percent: 100.0 / 3},
				{Level: 1, Method: classprofile.BodyMethod, Calls: 1, Time: 2 * ms, Percent: 200.0 / 3},
			},
		},
		{
			name: "by time",
			url:  "/classes/Spam/tree?order=time",
			want: []classprofile.TreeStat{
				{Level: 0, Method: "a", Calls: 1, Time: 3 * ms, Percent: 100},
				{Level: 1, Method: "b", Calls: 1, Time: 1 * ms, Percent: 100.0 / 3},
				{Level: 1, Method: classprofile.BodyMethod, Calls: 1, Time: 2 * ms, Percent: 200.0 / 3},
			},
		},
	}

	_, h := newTestEnvironment(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var stats []classprofile.TreeStat
			decode(t, do(t, h, http.MethodGet, test.url, nil), &stats)
			if diff := testutil.Diff(stats, test.want, testutil.ApproxPercent); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestGetCallTree(t *testing.T) {
	_, h := newTestEnvironment(t)
	var roots []*nodetree.Node
	decode(t, do(t, h, http.MethodGet, "/classes/Spam/calltree", nil), &roots)
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	a := roots[0]
	if a.Name != "a" || a.DurationNS != uint64(3*ms) || a.SelfDurationNS != uint64(2*ms) {
		t.Fatalf("unexpected root: %+v", a)
	}
	if len(a.Children) != 1 || a.Children[0].Name != "b" {
		t.Fatalf("unexpected children: %+v", a.Children)
	}
}

func TestGetReport(t *testing.T) {
	_, h := newTestEnvironment(t)
	w := do(t, h, http.MethodGet, "/classes/Spam/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type: %s", w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "Spam\n") || !strings.Contains(body, classprofile.BodyMethod) {
		t.Fatalf("unexpected report:\n%s", body)
	}
}

func TestGetMetricsAndTrace(t *testing.T) {
	env, h := newTestEnvironment(t)
	ctx := context.Background()
	clock := timeutil.NewManualClock(time.Unix(1700000000, 0))
	p := proxy.New(
		struct{}{},
		proxy.WithClassName("Spam"),
		proxy.WithRegistry(env.registry),
		proxy.WithClock(clock),
		proxy.WithObserver(env.metrics),
		proxy.WithObserver(env.trace),
	)
	for i := 0; i < 2; i++ {
		_ = p.Call(ctx, "b", func(ctx context.Context) error {
			clock.Advance(2 * ms)
			return nil
		})
	}

	var got []metrics.FunctionMetrics
	decode(t, do(t, h, http.MethodGet, "/classes/Spam/metrics", nil), &got)
	want := []metrics.FunctionMetrics{
		{
			Class:  "Spam",
			Method: "b",
			P75:    2 * ms,
			P95:    2 * ms,
			P99:    2 * ms,
			Avg:    2 * ms,
			Sum:    4 * ms,
			Count:  2,
			Worst:  2 * ms,
		},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	var trace chrometrace.Trace
	decode(t, do(t, h, http.MethodGet, "/trace?class=Spam", nil), &trace)
	if len(trace.TraceEvents) != 2 || trace.TraceEvents[0].Name != "Spam.b" || trace.TraceEvents[0].Duration != 2000 {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	decode(t, do(t, h, http.MethodGet, "/trace?class=Eggs", nil), &trace)
	if len(trace.TraceEvents) != 0 {
		t.Fatalf("expected no Eggs calls, got %+v", trace.TraceEvents)
	}

	if w := do(t, h, http.MethodDelete, "/classes/Spam", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	got = nil
	decode(t, do(t, h, http.MethodGet, "/classes/Spam/metrics", nil), &got)
	if len(got) != 0 {
		t.Fatalf("expected metrics to be reset, got %+v", got)
	}
}

func TestGetFlamegraph(t *testing.T) {
	_, h := newTestEnvironment(t)
	var o struct {
		Schema   string                      `json:"$schema"`
		Name     string                      `json:"name"`
		Profiles []speedscope.SampledProfile `json:"profiles"`
		Shared   speedscope.SharedData       `json:"shared"`
	}
	decode(t, do(t, h, http.MethodGet, "/classes/Spam/flamegraph", nil), &o)
	if o.Schema != speedscope.Schema || o.Name != "Spam" || len(o.Profiles) != 1 {
		t.Fatalf("unexpected flamegraph: %+v", o)
	}
	if diff := testutil.Diff(o.Profiles[0].Weights, []uint64{uint64(2 * ms), uint64(1 * ms)}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if len(o.Shared.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(o.Shared.Frames))
	}
}

func TestDeleteClass(t *testing.T) {
	env, h := newTestEnvironment(t)
	if w := do(t, h, http.MethodDelete, "/classes/Spam", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	p, _ := env.registry.Lookup("Spam")
	if !p.Empty() {
		t.Fatal("expected the profile to be reset")
	}
	// resetting twice is fine
	if w := do(t, h, http.MethodDelete, "/classes/Spam", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
}

func TestPostExport(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		exported int
	}{
		{name: "every class", status: http.StatusOK, exported: 1},
		{name: "listed classes", body: `{"classes":["Spam","Eggs"]}`, status: http.StatusOK, exported: 1},
		{name: "unknown class", body: `{"classes":["Ham"]}`, status: http.StatusNotFound},
		{name: "malformed body", body: `{"classes":`, status: http.StatusBadRequest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			writer := &KafkaWriterMock{}
			_, h := newTestEnvironment(t, export.KafkaExporter{Writer: writer, Topic: "class-profiles"})
			w := do(t, h, http.MethodPost, "/export", []byte(test.body))
			if w.Code != test.status {
				t.Fatalf("expected status %d, got %d", test.status, w.Code)
			}
			if test.status != http.StatusOK {
				return
			}
			var resp ExportResponse
			decode(t, w, &resp)
			if resp.Exported != test.exported || len(writer.messages) != test.exported {
				t.Fatalf("expected %d exported, got %d (%d messages)", test.exported, resp.Exported, len(writer.messages))
			}
			var s export.Snapshot
			if err := gojson.Unmarshal(writer.messages[0].Value, &s); err != nil {
				t.Fatalf("we should be able to decode the snapshot: %v", err)
			}
			if s.Class != "Spam" || s.TakenAt != 1700000000 {
				t.Fatalf("unexpected snapshot: %s %d", s.Class, s.TakenAt)
			}
		})
	}
}
