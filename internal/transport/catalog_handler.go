package transport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"catalog-desk/internal/domain"
	"catalog-desk/internal/middleware"
	"catalog-desk/internal/repository"
	"catalog-desk/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateProductRequest creates a new variant, inside the named group or a
// fresh singleton group when groupId is empty.
type CreateProductRequest struct {
	Title      string            `json:"title" validate:"required"`
	GroupID    string            `json:"groupId"`
	Name       string            `json:"name"`
	SKU        string            `json:"sku"`
	ImageURL   string            `json:"imageUrl"`
	Attributes domain.Attributes `json:"attributes"`
	Status     string            `json:"status"`
}

// UpdateGroupRequest renames a group.
type UpdateGroupRequest struct {
	Title string `json:"title" validate:"required"`
}

// UpdateVariantRequest replaces a variant's mutable fields.
type UpdateVariantRequest struct {
	Name       string            `json:"name" validate:"required"`
	SKU        string            `json:"sku"`
	ImageURL   string            `json:"imageUrl"`
	Attributes domain.Attributes `json:"attributes"`
	Status     string            `json:"status"`
}

// MoveVariantRequest names the group that takes ownership of the variant.
type MoveVariantRequest struct {
	TargetGroupID string `json:"target_group_id" validate:"required"`
}

// ReaggregateSliceRequest names the variants to regroup.
type ReaggregateSliceRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1"`
}

// StatusResponse is the body of mutation endpoints with nothing to return.
type StatusResponse struct {
	Status string `json:"status"`
}

// CatalogHandler serves the product-group REST surface.
type CatalogHandler struct {
	repo     repository.CatalogRepository
	grouping *service.GroupingCore
	sheets   *service.SpreadsheetService
	logger   *zap.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(repo repository.CatalogRepository, grouping *service.GroupingCore, sheets *service.SpreadsheetService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		repo:     repo,
		grouping: grouping,
		sheets:   sheets,
		logger:   logger,
	}
}

// RegisterRoutes registers all catalog routes.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Put("/{id}", h.UpdateGroup)
		r.Delete("/{id}", h.DeleteGroup)
		r.Put("/{id}/variants/{variantID}", h.UpdateVariant)
		r.Delete("/{id}/variants/{variantID}", h.DeleteVariant)
	})
	r.Route("/api/groups", func(r chi.Router) {
		r.Post("/reaggregate", h.Reaggregate)
		r.Post("/reaggregate-slice", h.ReaggregateSlice)
		r.Post("/{id}/move", h.MoveVariant)
		r.Post("/{id}/rate", h.RateGroup)
	})
	r.Get("/api/download", h.Download)
}

// respondRepoError maps repository sentinels onto HTTP statuses.
func (h *CatalogHandler) respondRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrGroupNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "group not found")
	case errors.Is(err, repository.ErrVariantNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "variant not found")
	default:
		h.logger.Error("Repository error", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// List handles GET /api/products with q/limit/offset pagination.
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 0 || offset < 0 {
		middleware.RespondWithError(w, http.StatusBadRequest, "limit and offset must be non-negative")
		return
	}

	groups, total, err := h.repo.ListGroups(r.Context(), query, limit, offset)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, domain.Page{
		Items:  groups,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/products/{id}. The detail response carries the
// group's significant features, computed on read.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	group, err := h.repo.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	group.SignificantFeatures = h.grouping.SignificantFeatures([]domain.ProductGroup{group})
	middleware.RespondWithJSON(w, http.StatusOK, group)
}

// Create handles POST /api/products.
func (h *CatalogHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	variant := domain.ProductVariant{
		Name:       req.Name,
		SKU:        req.SKU,
		ImageURL:   req.ImageURL,
		Attributes: req.Attributes,
		Status:     domain.VariantStatus(req.Status),
	}
	if variant.Name == "" {
		variant.Name = req.Title
	}

	var group domain.ProductGroup
	var err error
	if req.GroupID != "" {
		group, err = h.repo.AddVariant(r.Context(), req.GroupID, variant)
	} else {
		group, err = h.repo.CreateGroup(r.Context(), req.Title, variant)
	}
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, group)
}

// UpdateGroup handles PUT /api/products/{id}.
func (h *CatalogHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req UpdateGroupRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.repo.UpdateGroup(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, group)
}

// UpdateVariant handles PUT /api/products/{id}/variants/{variantID} and
// returns the authoritative group after the write.
func (h *CatalogHandler) UpdateVariant(w http.ResponseWriter, r *http.Request) {
	var req UpdateVariantRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	variant := domain.ProductVariant{
		ID:         chi.URLParam(r, "variantID"),
		Name:       req.Name,
		SKU:        req.SKU,
		ImageURL:   req.ImageURL,
		Attributes: req.Attributes,
		Status:     domain.VariantStatus(req.Status),
	}
	group, err := h.repo.UpdateVariant(r.Context(), chi.URLParam(r, "id"), variant)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, group)
}

// DeleteVariant handles DELETE /api/products/{id}/variants/{variantID}.
// Removing the last variant removes the group.
func (h *CatalogHandler) DeleteVariant(w http.ResponseWriter, r *http.Request) {
	err := h.repo.DeleteVariant(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "variantID"))
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// DeleteGroup handles DELETE /api/products/{id}.
func (h *CatalogHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// MoveVariant handles POST /api/groups/{id}/move?product_id=.
func (h *CatalogHandler) MoveVariant(w http.ResponseWriter, r *http.Request) {
	variantID := r.URL.Query().Get("product_id")
	if variantID == "" {
		middleware.RespondWithError(w, http.StatusBadRequest, "product_id query parameter is required")
		return
	}
	var req MoveVariantRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.repo.MoveVariant(r.Context(), chi.URLParam(r, "id"), variantID, req.TargetGroupID)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Reaggregate handles POST /api/groups/reaggregate?strictness=.
func (h *CatalogHandler) Reaggregate(w http.ResponseWriter, r *http.Request) {
	strictness, ok := queryStrictness(w, r)
	if !ok {
		return
	}
	groups, err := h.repo.AllGroups(r.Context())
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	created, err := h.repo.ReplaceGroups(r.Context(), h.grouping.Regroup(groups, strictness))
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "ok", "created": created})
}

// ReaggregateSlice handles POST /api/groups/reaggregate-slice?strictness=
// regrouping only the named variants.
func (h *CatalogHandler) ReaggregateSlice(w http.ResponseWriter, r *http.Request) {
	strictness, ok := queryStrictness(w, r)
	if !ok {
		return
	}
	var req ReaggregateSliceRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	groups, err := h.repo.AllGroups(r.Context())
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	created, err := h.repo.ReplaceGroups(r.Context(), h.grouping.RegroupSlice(groups, req.ProductIDs, strictness))
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "ok", "created": created})
}

// RateGroup handles POST /api/groups/{id}/rate?score=.
func (h *CatalogHandler) RateGroup(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("score")
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "score query parameter must be a number")
		return
	}
	if err := h.repo.RateGroup(r.Context(), chi.URLParam(r, "id"), score); err != nil {
		h.respondRepoError(w, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Download handles GET /api/download?slice_ids= streaming the aggregated
// export workbook.
func (h *CatalogHandler) Download(w http.ResponseWriter, r *http.Request) {
	groups, err := h.repo.AllGroups(r.Context())
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	if raw := r.URL.Query().Get("slice_ids"); raw != "" {
		wanted := make(map[string]struct{})
		for _, id := range strings.Split(raw, ",") {
			wanted[strings.TrimSpace(id)] = struct{}{}
		}
		filtered := groups[:0]
		for _, g := range groups {
			for _, v := range g.Variants {
				if _, ok := wanted[v.ID]; ok {
					filtered = append(filtered, g)
					break
				}
			}
		}
		groups = filtered
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename=aggregated_slice.xlsx`)
	if err := h.sheets.Export(w, groups); err != nil {
		h.logger.Error("Export failed", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func queryStrictness(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := r.URL.Query().Get("strictness")
	if raw == "" {
		return 0.5, true
	}
	strictness, err := strconv.ParseFloat(raw, 64)
	if err != nil || strictness < 0 || strictness > 1 {
		middleware.RespondWithError(w, http.StatusBadRequest, "strictness must be a number between 0 and 1")
		return 0, false
	}
	return strictness, true
}
