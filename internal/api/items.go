package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
)

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Items().ListItems(r.Context())
	if err != nil {
		s.logger.Error("list items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list items failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// updateFields applies partial metadata edits. Titles and characters must be
// lists when present; tags may also be null to clear them.
func (s *Server) updateFields(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var fields catalog.ItemFields
	if raw, present := body["titles"]; present {
		if err := json.Unmarshal(raw, &fields.Titles); err != nil || fields.Titles == nil {
			writeError(w, http.StatusBadRequest, "titles must be a list")
			return
		}
	}
	if raw, present := body["characters"]; present {
		if err := json.Unmarshal(raw, &fields.Characters); err != nil || fields.Characters == nil {
			writeError(w, http.StatusBadRequest, "characters must be a list")
			return
		}
	}
	if raw, present := body["tags"]; present {
		if err := json.Unmarshal(raw, &fields.Tags); err != nil {
			writeError(w, http.StatusBadRequest, "tags must be a list or null")
			return
		}
		fields.TagsSet = true
	}
	if fields.Titles == nil && fields.Characters == nil && !fields.TagsSet {
		writeError(w, http.StatusBadRequest, "no updatable fields provided")
		return
	}

	updated, err := s.svc.Items().UpdateFields(r.Context(), item.ID, fields)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.logger.Error("update fields failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "item": updated})
}
