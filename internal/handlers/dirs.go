package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xicheng412/CliCast/internal/config"
	"github.com/xicheng412/CliCast/internal/pathguard"
)

// DirHandlers serves the directory picker endpoints. Listings are gated by
// the same path guard that admits session working directories.
type DirHandlers struct {
	Config *config.Store
}

type dirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
}

// List handles GET /api/dirs?path=….
func (h *DirHandlers) List(w http.ResponseWriter, r *http.Request) {
	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}

	clean, err := pathguard.Canonicalize(dirPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "path must be an absolute path")
		return
	}

	allowed := h.Config.AllowedDirs()
	// The roots themselves, and everything above them, stay browsable so the
	// picker can descend into an allowed tree.
	if !pathguard.Allowed(clean, allowed) && !isAncestorOfAny(clean, allowed) {
		writeError(w, http.StatusForbidden, "path is outside the allowed directories")
		return
	}

	entries, err := os.ReadDir(clean)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "directory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read directory")
		return
	}

	dirs := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, dirEntry{
			Name:  e.Name(),
			Path:  filepath.Join(clean, e.Name()),
			IsDir: true,
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	writeData(w, http.StatusOK, map[string]interface{}{
		"path":    clean,
		"entries": dirs,
	})
}

// isAncestorOfAny reports whether path is a strict ancestor of an allow-list
// root.
func isAncestorOfAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == "/" || strings.HasPrefix(root, path+"/") {
			return true
		}
	}
	return false
}

type breadcrumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Breadcrumbs handles GET /api/dirs/breadcrumbs?path=….
func (h *DirHandlers) Breadcrumbs(w http.ResponseWriter, r *http.Request) {
	dirPath := r.URL.Query().Get("path")
	clean, err := pathguard.Canonicalize(dirPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "path must be an absolute path")
		return
	}

	crumbs := []breadcrumb{{Name: "/", Path: "/"}}
	acc := ""
	for _, seg := range strings.Split(strings.Trim(clean, "/"), "/") {
		if seg == "" {
			continue
		}
		acc += "/" + seg
		crumbs = append(crumbs, breadcrumb{Name: seg, Path: acc})
	}

	writeData(w, http.StatusOK, map[string]interface{}{"breadcrumbs": crumbs})
}
