package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/export"
	"github.com/getsentry/proxyprof/internal/flamegraph"
	"github.com/getsentry/proxyprof/internal/httputil"
	"github.com/getsentry/proxyprof/internal/report"
)

type (
	ExportRequest struct {
		Classes []string `json:"classes"`
	}

	ExportResponse struct {
		Exported int `json:"exported"`
	}
)

var (
	flatSortKeys = []string{"seen", "method", "calls", "total", "avg"}
	treeOrders   = []string{"seen", "time"}
)

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (e *environment) getClasses(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, r, e.registry.Classes())
}

// getTrace returns the most recent calls in the Chrome trace event format,
// for one class when the class query parameter is set.
func (e *environment) getTrace(w http.ResponseWriter, r *http.Request) {
	class, _ := httputil.GetQueryParameter(w, r, "class", "")
	httputil.WriteJSON(w, r, e.trace.Trace(class))
}

// profileFromRequest looks up the class named in the route. It answers with
// a 404 when the class was never profiled.
func (e *environment) profileFromRequest(w http.ResponseWriter, r *http.Request) (*classprofile.ClassProfile, bool) {
	class := httprouter.ParamsFromContext(r.Context()).ByName("class")
	if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
		hub.Scope().SetTag("class", class)
	}
	p, ok := e.registry.Lookup(class)
	if !ok {
		http.Error(w, "unknown class", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func treeOptions(w http.ResponseWriter, r *http.Request) ([]classprofile.TreeOption, bool) {
	order, ok := httputil.GetQueryParameter(w, r, "order", "seen", treeOrders...)
	if !ok {
		return nil, false
	}
	if order == "time" {
		return []classprofile.TreeOption{classprofile.OrderByTime()}, true
	}
	return nil, true
}

func (e *environment) getFlat(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	key, ok := httputil.GetQueryParameter(w, r, "sort", "seen", flatSortKeys...)
	if !ok {
		return
	}
	stats := p.FlatStats()
	if err := classprofile.SortFlatStats(stats, key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	httputil.WriteJSON(w, r, stats)
}

func (e *environment) getTree(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	opts, ok := treeOptions(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, r, p.TreeStats(opts...))
}

func (e *environment) getCallTree(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, r, p.Tree())
}

func (e *environment) getReport(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	opts, ok := treeOptions(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := report.WriteProfile(w, p, opts...); err != nil {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
}

func (e *environment) getMetrics(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, r, e.metrics.ToMetrics(p.Name()))
}

func (e *environment) getFlamegraph(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, r, flamegraph.FromCallTree(p.Name(), p.Tree()))
}

func (e *environment) deleteClass(w http.ResponseWriter, r *http.Request) {
	p, ok := e.profileFromRequest(w, r)
	if !ok {
		return
	}
	p.Reset()
	e.metrics.Reset(p.Name())
	w.WriteHeader(http.StatusNoContent)
}

// postExport exports the classes listed in the body right away, or every
// class when the body is empty.
func (e *environment) postExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	if len(e.exporters) == 0 {
		http.Error(w, "no exporter configured", http.StatusServiceUnavailable)
		return
	}

	s := sentry.StartSpan(ctx, "processing")
	s.Description = "Read HTTP body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req ExportRequest
	if len(body) > 0 {
		s = sentry.StartSpan(ctx, "json.unmarshal")
		s.Description = "Unmarshal export request"
		err = gojson.Unmarshal(body, &req)
		s.Finish()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	profiles := e.registry.Profiles()
	if len(req.Classes) > 0 {
		profiles = make([]*classprofile.ClassProfile, 0, len(req.Classes))
		for _, class := range req.Classes {
			p, ok := e.registry.Lookup(class)
			if !ok {
				http.Error(w, "unknown class "+class, http.StatusNotFound)
				return
			}
			profiles = append(profiles, p)
		}
	}

	s = sentry.StartSpan(ctx, "export")
	s.Description = "Export profiles"
	n, err := export.ExportProfiles(ctx, profiles, e.exporters, e.clock.Now())
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		if errors.Is(err, context.DeadlineExceeded) {
			// This is a transient error, the client can retry
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	httputil.WriteJSON(w, r, ExportResponse{Exported: n})
}
