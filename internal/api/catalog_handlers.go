package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/commitment-engine/internal/models"
)

// Image catalog handlers

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images := s.images.List()

	out := make([]models.ImageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, img.Response())
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"images": out,
		"total":  len(out),
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img := s.images.Get(chi.URLParam(r, "imageID"))
	if img == nil {
		respondError(w, http.StatusNotFound, "not_found", "image not found")
		return
	}
	respondJSON(w, http.StatusOK, img.Response())
}
