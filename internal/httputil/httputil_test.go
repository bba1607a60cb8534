package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/getsentry/sentry-go"
	"github.com/pierrec/lz4/v4"
)

func TestDecompressPayload(t *testing.T) {
	payload := []byte(`{"classes":["Spam"]}`)

	var brBody bytes.Buffer
	bw := brotli.NewWriter(&brBody)
	_, _ = bw.Write(payload)
	_ = bw.Close()

	var lz4Body bytes.Buffer
	zw := lz4.NewWriter(&lz4Body)
	_, _ = zw.Write(payload)
	_ = zw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "identity", body: payload},
		{name: "brotli", encoding: "br", body: brBody.Bytes()},
		{name: "lz4", encoding: "lz4", body: lz4Body.Bytes()},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got []byte
			h := DecompressPayload(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = io.ReadAll(r.Body)
			}))
			req := httptest.NewRequest(http.MethodPost, "/export", bytes.NewReader(test.body))
			if test.encoding != "" {
				req.Header.Set("Content-Encoding", test.encoding)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if !bytes.Equal(got, payload) {
				t.Fatalf("expected %s, got %s", payload, got)
			}
		})
	}
}

func TestGetQueryParameter(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		want   string
		ok     bool
		status int
	}{
		{name: "missing", url: "/flat", want: "seen", ok: true, status: http.StatusOK},
		{name: "allowed", url: "/flat?sort=calls", want: "calls", ok: true, status: http.StatusOK},
		{name: "rejected", url: "/flat?sort=eggs", ok: false, status: http.StatusBadRequest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, test.url, nil)
			got, ok := GetQueryParameter(w, r, "sort", "seen", "seen", "calls")
			if got != test.want || ok != test.ok {
				t.Fatalf("expected (%q, %v), got (%q, %v)", test.want, test.ok, got, ok)
			}
			if w.Code != test.status {
				t.Fatalf("expected status %d, got %d", test.status, w.Code)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/classes", nil)
	WriteJSON(w, r, []string{"Spam", "Eggs"})
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type: %s", got)
	}
	if got := w.Body.String(); got != `["Spam","Eggs"]` {
		t.Fatalf("unexpected body: %s", got)
	}

	w = httptest.NewRecorder()
	WriteJSON(w, r, func() {})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestSetHTTPStatusCodeTag(t *testing.T) {
	e := SetHTTPStatusCodeTag(&sentry.Event{}, &sentry.EventHint{
		Response: &http.Response{StatusCode: http.StatusNotFound},
	})
	if got := e.Tags[HTTPStatusCodeTag]; got != "404" {
		t.Fatalf("expected tag 404, got %q", got)
	}

	e = SetHTTPStatusCodeTag(&sentry.Event{}, &sentry.EventHint{})
	if _, ok := e.Tags[HTTPStatusCodeTag]; ok {
		t.Fatal("expected no tag without a response")
	}
}
