package thinserve

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// reservedNames are child paths Site itself owns; a static directory
// entry may not shadow them.
var reservedNames = map[string]bool{
	"api": true,
}

// Site mounts a Server under "/api/" alongside a directory of static
// files served at the site root. A bare Server (without static assets)
// can also be used directly as an http.Handler.
type Site struct {
	api       http.Handler
	staticDir string
	fileSrv   http.Handler
}

// NewSite builds a Site that mounts api at "/api/" and serves staticDir
// (which must not contain entries named "api") for every other path. If
// staticDir is empty, only the API is served.
func NewSite(api *Server, staticDir string) (*Site, error) {
	if staticDir != "" {
		entries, err := os.ReadDir(staticDir)
		if err != nil {
			return nil, fmt.Errorf("thinserve: reading static dir: %w", err)
		}
		for _, e := range entries {
			if reservedNames[e.Name()] {
				return nil, fmt.Errorf("thinserve: static dir entry %q shadows a reserved name", e.Name())
			}
		}
	}

	s := &Site{api: api, staticDir: staticDir}
	if staticDir != "" {
		s.fileSrv = http.FileServer(http.Dir(staticDir))
	}
	return s, nil
}

// ServeHTTP routes "/api" and "/api/..." to the API Server (with that
// prefix stripped) and everything else to the static file tree, if one
// was configured.
func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isAPIPath(r.URL.Path) {
		http.StripPrefix("/api", s.api).ServeHTTP(w, r)
		return
	}
	if s.fileSrv == nil {
		http.NotFound(w, r)
		return
	}
	s.fileSrv.ServeHTTP(w, r)
}

func isAPIPath(p string) bool {
	clean := filepath.Clean("/" + p)
	return clean == "/api" || len(clean) > 4 && clean[:5] == "/api/"
}
