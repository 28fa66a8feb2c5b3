package handlers

import (
	"bytes"
	"embed"
	"net/http"
	"strconv"
	"strings"
)

//go:embed static/enforce-js.js
var staticFS embed.FS

// JSCheckResponse reports whether the JS header reached the server.
type JSCheckResponse struct {
	JSEnabled bool   `json:"js_enabled"`
	Header    string `json:"header"`
}

// JSCheckHandler serves the script that marks requests from JavaScript
// capable clients, and an endpoint for pages to verify it worked.
//
// Both routes must sit under an exempt prefix: the browser fetches the
// script before it can set the header.
type JSCheckHandler struct {
	header string
	script []byte
}

// NewJSCheckHandler creates a handler for the given header name.
func NewJSCheckHandler(header string) *JSCheckHandler {
	script, err := staticFS.ReadFile("static/enforce-js.js")
	if err != nil {
		// The file is embedded at build time.
		panic(err)
	}
	script = bytes.ReplaceAll(script, []byte(`"x-js-enabled"`), []byte(strconv.Quote(strings.ToLower(header))))
	return &JSCheckHandler{header: header, script: script}
}

// Check handles GET /api/js-check.
func (h *JSCheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	_, present := r.Header[http.CanonicalHeaderKey(h.header)]
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, JSCheckResponse{
		JSEnabled: present,
		Header:    h.header,
	})
}

// Script handles GET /api/js-check/enforce-js.js.
func (h *JSCheckHandler) Script(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.script)
}
