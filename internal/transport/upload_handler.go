package transport

import (
	"net/http"
	"sync"

	"catalog-desk/internal/domain"
	"catalog-desk/internal/middleware"
	"catalog-desk/internal/repository"
	"catalog-desk/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxUploadBytes = 64 << 20

// UploadHandler ingests spreadsheet uploads. Rows are parsed, clustered
// among themselves at the default strictness and added to the catalog;
// existing groups (possibly user-curated) are left alone. Processing is
// synchronous, but each upload still registers a task so clients polling
// /api/upload/status see it complete.
type UploadHandler struct {
	repo     repository.CatalogRepository
	grouping *service.GroupingCore
	sheets   *service.SpreadsheetService
	logger   *zap.Logger

	mu    sync.Mutex
	tasks map[string]bool
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(repo repository.CatalogRepository, grouping *service.GroupingCore, sheets *service.SpreadsheetService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		repo:     repo,
		grouping: grouping,
		sheets:   sheets,
		logger:   logger,
		tasks:    make(map[string]bool),
	}
}

// RegisterRoutes registers the upload routes.
func (h *UploadHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/upload", h.Upload)
	r.Get("/api/upload/status/{taskID}", h.Status)
}

// Upload handles POST /api/upload, multipart with the file under "file".
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	parsed, warnings, err := h.sheets.Parse(file)
	if err != nil {
		h.logger.Warn("Upload rejected", zap.String("file", header.Filename), zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "failed to parse workbook: "+err.Error())
		return
	}

	grouped := h.grouping.Regroup(parsed, 0.5)
	loaded, err := h.repo.AddGroups(r.Context(), grouped)
	if err != nil {
		h.logger.Error("Ingest failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to store uploaded products")
		return
	}

	taskID := uuid.NewString()
	h.mu.Lock()
	h.tasks[taskID] = true
	h.mu.Unlock()

	h.logger.Info("Upload ingested",
		zap.String("file", header.Filename),
		zap.Int("groups", loaded),
		zap.Int("warnings", len(warnings)),
	)
	middleware.RespondWithJSON(w, http.StatusOK, domain.UploadResult{
		Status:   "ok",
		Loaded:   loaded,
		Warnings: warnings,
		TaskID:   taskID,
	})
}

// Status handles GET /api/upload/status/{taskID}.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	h.mu.Lock()
	done, known := h.tasks[taskID]
	h.mu.Unlock()
	if !known {
		middleware.RespondWithError(w, http.StatusNotFound, "task not found")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"done": done, "progress": 100})
}
