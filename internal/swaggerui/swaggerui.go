// Package swaggerui serves the two reserved routes of spec.md §6: an
// embedded static viewer and the live-generated OpenAPI document, mounted
// under the configured swagger_url prefix (mirroring web_server.py's
// add_swagger_routes).
package swaggerui

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strings"

	"github.com/anthony/grpc-rest-gateway/internal/openapi"
)

//go:embed assets
var assetsFS embed.FS

// Mount registers the swagger.json document handler on mux, rooted at
// prefix (e.g. "" or "/docs"), and returns a handler for the static UI
// assets under prefix. The static handler is not itself registered on mux:
// when prefix is "", it would claim "/" and collide with the dispatcher's
// own registration there, so callers instead wire it in as the
// dispatcher's fallback for unmatched paths.
func Mount(mux *http.ServeMux, prefix string, docs *openapi.Publisher) (http.Handler, error) {
	static, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		return nil, err
	}
	fileServer := http.StripPrefix(prefix+"/", http.FileServer(http.FS(static)))
	mux.HandleFunc(prefix+"/v1/swagger.json", newDocumentHandler(docs))
	return newStaticHandler(prefix, fileServer), nil
}

// newStaticHandler scopes fileServer to requests actually under prefix,
// so it does not swallow every unmatched path when prefix is non-empty.
func newStaticHandler(prefix string, fileServer http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if prefix != "" && !strings.HasPrefix(r.URL.Path, prefix+"/") && r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}

func newDocumentHandler(docs *openapi.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := docs.Load()
		if doc == nil {
			http.Error(w, "openapi document not yet available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}
