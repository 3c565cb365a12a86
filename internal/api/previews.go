package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
	"github.com/nokosaaan/fanart-viewer/internal/resolve"
)

const defaultContentType = "application/octet-stream"

var dataURIRe = regexp.MustCompile(`^data:([^;]+);base64$`)

// servePreview writes the best preview's raw bytes. An optional ?index=
// query selects a specific preview instead.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}

	if idxParam := r.URL.Query().Get("index"); idxParam != "" {
		idx, err := strconv.Atoi(idxParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid index")
			return
		}
		s.writeBlobAt(w, r, item.ID, idx)
		return
	}

	blob, err := s.svc.Previews().Best(r.Context(), item.ID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no preview")
		return
	}
	if err != nil {
		s.logger.Error("best preview failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "preview lookup failed")
		return
	}
	writeBlob(w, blob)
}

func (s *Server) servePreviewAt(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	s.writeBlobAt(w, r, item.ID, idx)
}

func (s *Server) writeBlobAt(w http.ResponseWriter, r *http.Request, itemID int64, idx int) {
	blob, err := s.svc.Previews().At(r.Context(), itemID, idx)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "index out of range")
		return
	}
	if err != nil {
		s.logger.Error("preview at index failed", zap.Int64("item_id", itemID), zap.Int("index", idx), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "preview lookup failed")
		return
	}
	writeBlob(w, blob)
}

func writeBlob(w http.ResponseWriter, blob catalog.Blob) {
	contentType := blob.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob.Data); err != nil {
		zap.L().Error("write blob failed", zap.Error(err))
	}
}

func (s *Server) listPreviews(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	previews, err := s.svc.Previews().List(r.Context(), item.ID)
	if err != nil {
		s.logger.Error("list previews failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list previews failed")
		return
	}
	out := make([]map[string]any, 0, len(previews))
	for _, p := range previews {
		out = append(out, map[string]any{
			"index":        p.Order,
			"url":          fmt.Sprintf("/v1/items/%d/previews/%d", item.ID, p.Order),
			"content_type": p.ContentType,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deletePreviewAt(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	err = s.svc.Previews().DeleteAt(r.Context(), item.ID, idx)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "index out of range")
		return
	}
	if err != nil {
		s.logger.Error("delete preview failed", zap.Int64("item_id", item.ID), zap.Int("index", idx), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete preview failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "index": idx})
}

type saveImagesRequest struct {
	Images []struct {
		DataURI string `json:"data_uri"`
		URL     string `json:"url"`
	} `json:"images"`
}

// savePreviews accepts client-provided data-URI images and persists them as
// the item's preview set. Undecodable entries are skipped.
func (s *Server) savePreviews(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req saveImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "no images provided")
		return
	}

	type savedImage struct {
		Index       int    `json:"index"`
		URL         string `json:"url,omitempty"`
		Size        int    `json:"size"`
		ContentType string `json:"content_type"`
	}
	var blobs []catalog.Blob
	var saved []savedImage
	for _, img := range req.Images {
		data, contentType, ok := decodeDataURI(img.DataURI)
		if !ok {
			continue
		}
		saved = append(saved, savedImage{
			Index:       len(blobs),
			URL:         img.URL,
			Size:        len(data),
			ContentType: contentType,
		})
		blobs = append(blobs, catalog.Blob{Data: data, ContentType: contentType})
	}
	if len(blobs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no images saved")
		return
	}

	count, err := s.svc.SavePreviews(r.Context(), item, blobs, "upload")
	if err != nil {
		s.logger.Error("save previews failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save previews failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": count, "saved": saved})
}

func decodeDataURI(uri string) ([]byte, string, bool) {
	parts := strings.SplitN(uri, ",", 2)
	if len(parts) != 2 {
		return nil, "", false
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", false
	}
	contentType := defaultContentType
	if m := dataURIRe.FindStringSubmatch(parts[0]); m != nil {
		contentType = m[1]
	}
	return data, contentType, true
}

type resolveRequest struct {
	URL         string `json:"url"`
	Mode        string `json:"mode"`
	PreviewOnly bool   `json:"preview_only"`
}

type candidateResponse struct {
	URL         string `json:"url"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
	Data        string `json:"data,omitempty"`
	Strategy    string `json:"strategy"`
}

// resolveItem runs the resolution engine against an item's link (or an
// override URL) and either returns the candidates inline or persists them
// as the item's preview set.
func (s *Server) resolveItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := resolve.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" && item.Link == "" {
		writeError(w, http.StatusBadRequest, "no link available on item")
		return
	}

	_, candidates, err := s.svc.ResolvePreview(r.Context(), item.ID, req.URL, mode)
	switch {
	case errors.Is(err, resolve.ErrNoCredential):
		writeError(w, http.StatusUnprocessableEntity, "api bearer credential not configured")
		return
	case errors.Is(err, resolve.ErrRenderingDisabled):
		writeError(w, http.StatusUnprocessableEntity, "rendered mode is not enabled")
		return
	case err != nil:
		s.logger.Error("resolve failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}

	if req.PreviewOnly {
		out := make([]candidateResponse, 0, len(candidates))
		for _, c := range candidates {
			out = append(out, candidateResponse{
				URL:         c.URL,
				Size:        len(c.Data),
				ContentType: c.ContentType,
				Data:        base64.StdEncoding.EncodeToString(c.Data),
				Strategy:    c.Strategy,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "candidates": out})
		return
	}

	if len(candidates) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no image candidates found")
		return
	}
	blobs := make([]catalog.Blob, 0, len(candidates))
	saved := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		blobs = append(blobs, catalog.Blob{Data: c.Data, ContentType: c.ContentType})
		saved = append(saved, candidateResponse{
			URL:         c.URL,
			Size:        len(c.Data),
			ContentType: c.ContentType,
			Strategy:    c.Strategy,
		})
	}
	count, err := s.svc.SavePreviews(r.Context(), item, blobs, string(mode))
	if err != nil {
		s.logger.Error("save resolved previews failed", zap.Int64("item_id", item.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "save previews failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": count, "saved": saved})
}
