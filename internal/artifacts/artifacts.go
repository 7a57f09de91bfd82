// Package artifacts serves the documents a call produced, read-only, so the
// voice log and persisted artifacts can be inspected while a call runs.
//
//   - GET /conversations/{id}/artifacts lists metadata, oldest first.
//   - GET /conversations/{id}/artifacts/{name} returns the raw content.
package artifacts

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/livecall/pkg/store"
)

// Summary is an artifact without its content.
type Summary struct {
	Name      string             `json:"name"`
	Kind      store.ArtifactKind `json:"kind"`
	MIMEType  string             `json:"mime_type"`
	Source    store.Source       `json:"source"`
	Size      int                `json:"size"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Handler reads from an artifact store.
type Handler struct {
	store store.ArtifactStore
}

// New returns a Handler over st.
func New(st store.ArtifactStore) *Handler {
	return &Handler{store: st}
}

// Register adds the artifact routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /conversations/{id}/artifacts", h.List)
	mux.HandleFunc("GET /conversations/{id}/artifacts/{name}", h.Get)
}

// List writes the conversation's artifacts as a JSON array.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListArtifacts(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Warn("artifacts: list", "conversation_id", r.PathValue("id"), "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	out := make([]Summary, 0, len(list))
	for _, a := range list {
		out = append(out, Summary{
			Name:      a.Name,
			Kind:      a.Kind,
			MIMEType:  a.MIMEType,
			Source:    a.Source,
			Size:      len(a.Content),
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// Get writes one artifact's content with its stored MIME type.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.ReadArtifact(r.Context(), r.PathValue("id"), r.PathValue("name"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		slog.Warn("artifacts: read", "conversation_id", r.PathValue("id"), "name", r.PathValue("name"), "err", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	ct := a.MIMEType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
	_, _ = w.Write(a.Content)
}
