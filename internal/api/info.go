package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/extractor"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/queue"
	"github.com/streamvault/backend/internal/validators"
)

// InfoHandlers serves metadata lookups that never touch the queue.
type InfoHandlers struct {
	extractor extractor.MediaExtractor
	log       *logger.Logger
}

// NewInfoHandlers creates metadata handlers.
func NewInfoHandlers(ex extractor.MediaExtractor, log *logger.Logger) *InfoHandlers {
	if log == nil {
		log = logger.Default().WithComponent("api")
	}
	return &InfoHandlers{extractor: ex, log: log}
}

// GetFormats handles GET /api/v1/formats?url=...
func (h *InfoHandlers) GetFormats(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	url := r.URL.Query().Get("url")
	result := validators.ValidateSubmission(url, queue.KindVideo)
	if !result.Valid {
		apperrors.WriteError(w, requestID, apperrors.ValidationError(result.Error))
		return
	}

	meta, err := h.extractor.ExtractInfo(r.Context(), result.URL, extractor.Options{NoPlaylist: true})
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	extractor.ScoreFormats(meta.Formats)
	apperrors.WriteJSON(w, requestID, http.StatusOK, meta)
}

// PlaylistResponse summarizes a playlist URL.
type PlaylistResponse struct {
	ID         string                    `json:"id"`
	Title      string                    `json:"title"`
	IsPlaylist bool                      `json:"is_playlist"`
	Count      int                       `json:"count"`
	Entries    []extractor.PlaylistEntry `json:"entries"`
}

// GetPlaylist handles GET /api/v1/playlist?url=...
func (h *InfoHandlers) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	url := r.URL.Query().Get("url")
	result := validators.ValidateSubmission(url, queue.KindPlaylistVideo)
	if !result.Valid {
		apperrors.WriteError(w, requestID, apperrors.ValidationError(result.Error))
		return
	}

	meta, err := h.extractor.ExtractInfo(r.Context(), result.URL, extractor.Options{})
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	entries := meta.Entries
	if entries == nil {
		entries = []extractor.PlaylistEntry{}
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, PlaylistResponse{
		ID:         meta.ID,
		Title:      meta.Title,
		IsPlaylist: meta.IsPlaylist,
		Count:      len(entries),
		Entries:    entries,
	})
}

// ValidateRequest is the request body for URL validation
type ValidateRequest struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// ValidateURL handles POST /api/v1/validate
func (h *InfoHandlers) ValidateURL(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid JSON body"))
		return
	}

	kind := queue.Kind(req.Kind)
	if req.Kind == "" {
		kind = queue.KindVideo
	}
	if !kind.Valid() {
		apperrors.WriteError(w, requestID, apperrors.UnsupportedKind(req.Kind))
		return
	}

	result := validators.ValidateSubmission(req.URL, kind)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	apperrors.WriteJSON(w, requestID, status, result)
}
