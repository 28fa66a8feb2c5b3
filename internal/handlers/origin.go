package handlers

import "net/http"

// OriginResponse is returned by the built-in origin.
type OriginResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// Origin answers requests that passed the edge filter when no upstream
// is configured.
func Origin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OriginResponse{Status: "passed", Path: r.URL.Path})
}
