package handlers

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const downloadFilename = "generated-video.mp4"

// GetArtifact serves a published video. ServeContent handles Range requests
// so the page's player can seek.
func (a *App) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	blob, ok := a.Registry.Open(id)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	w.Header().Set("Content-Type", blob.MimeType)
	w.Header().Set("Cache-Control", "private, no-store")
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+downloadFilename+`"`)
	}
	http.ServeContent(w, r, downloadFilename, blob.CreatedAt, bytes.NewReader(blob.Data))
}

func (a *App) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if !a.Registry.Release(chi.URLParam(r, "id")) {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
