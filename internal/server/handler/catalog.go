package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// CatalogService lists and edits property display metadata.
type CatalogService interface {
	List(ctx context.Context) ([]domain.CatalogItem, error)
	Upsert(ctx context.Context, sale common.Address, meta domain.CatalogMetadata) (domain.CatalogItem, error)
}

// CatalogHandler serves the property catalog.
type CatalogHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(catalog CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// ListCatalog returns every known property.
// GET /api/catalog
func (h *CatalogHandler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list catalog", err)
		return
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// UpsertCatalog edits the display fields of one sale.
// PUT /api/catalog/{sale}
func (h *CatalogHandler) UpsertCatalog(w http.ResponseWriter, r *http.Request) {
	sale, err := pathAddress(r, "sale")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var meta domain.CatalogMetadata
	if err := decodeBody(w, r, &meta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.catalog.Upsert(r.Context(), sale, meta)
	if err != nil {
		writeServiceError(w, r, h.logger, "update catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
