package httputil

import (
	"fmt"
	"net/http"
	"strings"
)

// GetQueryParameter reads an optional query parameter. An empty or missing
// value yields def. When allowed is not empty, any other value writes a 400
// status code with the reasoning into the ResponseWriter and returns false.
func GetQueryParameter(w http.ResponseWriter, r *http.Request, key, def string, allowed ...string) (string, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return def, true
	}
	if len(allowed) == 0 {
		return value, true
	}
	for _, a := range allowed {
		if value == a {
			return value, true
		}
	}
	http.Error(
		w,
		fmt.Sprintf("invalid %s query parameter %q, expected one of: %s", key, value, strings.Join(allowed, ", ")),
		http.StatusBadRequest,
	)
	return "", false
}
