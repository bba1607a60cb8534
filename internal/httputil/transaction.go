package httputil

import (
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
)

// HTTPStatusCodeTag is the name of the HTTP status code tag.
const HTTPStatusCodeTag = "http.response.status_code"

// SetHTTPStatusCodeTag sets the status code tag of the response on events
// sent while handling a request.
func SetHTTPStatusCodeTag(e *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint == nil || hint.Response == nil {
		return e
	}
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	if _, exists := e.Tags[HTTPStatusCodeTag]; !exists {
		e.Tags[HTTPStatusCodeTag] = strconv.Itoa(hint.Response.StatusCode)
	}
	return e
}

// NameTransaction names the transaction of the request after its route
// instead of its URL, class names included in the path would otherwise make
// one transaction per class.
func NameTransaction(route string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.Scope().SetTransaction(r.Method + " " + route)
		}
		next.ServeHTTP(w, r)
	}
}
