package httputil

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
)

// WriteJSON marshals v and writes it with a 200 status code. A marshaling
// failure is reported and answered with a 500.
func WriteJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	ctx := r.Context()
	s := sentry.StartSpan(ctx, "json.marshal")
	b, err := gojson.Marshal(v)
	s.Finish()
	if err != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			hub.CaptureException(err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
