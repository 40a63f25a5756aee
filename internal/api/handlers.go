// Package api provides HTTP API handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/threatlens/threatlens/internal/aggregate"
	"github.com/threatlens/threatlens/internal/bulk"
	"github.com/threatlens/threatlens/internal/database"
	"github.com/threatlens/threatlens/internal/ioc"
	"github.com/threatlens/threatlens/internal/models"
)

// Handler contains all HTTP handlers.
type Handler struct {
	engine    *aggregate.Engine
	processor *bulk.Processor
	store     database.Store
}

// NewHandler creates a new handler.
func NewHandler(engine *aggregate.Engine, processor *bulk.Processor, store database.Store) *Handler {
	return &Handler{
		engine:    engine,
		processor: processor,
		store:     store,
	}
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

// CheckIOC runs an aggregated lookup for one indicator.
func (h *Handler) CheckIOC(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IOC == "" {
		writeError(w, http.StatusBadRequest, "ioc is required")
		return
	}

	result, err := h.engine.Check(r.Context(), req.IOC, req.ForceRefresh)
	if err != nil {
		if isClassificationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Lookup failed")
		writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StreamIOC runs an aggregated lookup, streaming provider slots as
// server-sent events while the summary is still being computed.
func (h *Handler) StreamIOC(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("ioc")
	if value == "" {
		writeError(w, http.StatusBadRequest, "ioc query parameter is required")
		return
	}
	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range h.engine.CheckStream(r.Context(), value, forceRefresh) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode stream event")
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
		flusher.Flush()
	}
}

// DebugIOC returns the stored raw provider payloads for an indicator,
// without triggering any provider fetches.
func (h *Handler) DebugIOC(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("ioc")
	if value == "" {
		writeError(w, http.StatusBadRequest, "ioc query parameter is required")
		return
	}

	result, err := h.engine.Debug(r.Context(), value)
	if err != nil {
		if isClassificationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Debug lookup failed")
		writeError(w, http.StatusInternalServerError, "Debug lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListProviders describes the configured adapters and their breaker state.
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.engine.Registry().Info(),
	})
}

// GetLookup returns a stored lookup result by ID.
func (h *Handler) GetLookup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ID is required")
		return
	}

	result, err := h.store.GetLookup(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get lookup")
		writeError(w, http.StatusInternalServerError, "Failed to get lookup")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "Lookup not found")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SubmitBulk accepts a CSV upload and starts a bulk job for it.
func (h *Handler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file upload is required")
		return
	}
	defer file.Close()

	forceRefresh := r.FormValue("force_refresh") == "true"

	indicators, err := h.processor.ParseCSV(header.Filename, header.Size, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.processor.Submit(r.Context(), header.Filename, header.Size, indicators, forceRefresh)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create bulk job")
		writeError(w, http.StatusInternalServerError, "Failed to create bulk job")
		return
	}

	// Processing outlives this request, so it gets its own context.
	go h.processor.Run(context.Background(), job.ID)

	writeJSON(w, http.StatusAccepted, models.BulkSubmitResponse{
		JobID:     job.ID,
		Status:    job.Status,
		TotalIOCs: job.TotalIOCs,
	})
}

// BulkProgress returns a progress snapshot for a bulk job.
func (h *Handler) BulkProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := h.processor.Progress(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get bulk progress")
		writeError(w, http.StatusInternalServerError, "Failed to get progress")
		return
	}
	if progress == nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// DownloadBulk exports a finished bulk job as CSV.
func (h *Handler) DownloadBulk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, filename, err := h.processor.ExportCSV(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func isClassificationError(err error) bool {
	return errors.Is(err, ioc.ErrEmptyOrTooLong) || errors.Is(err, ioc.ErrUnrecognized)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
