package repository

import (
	"context"
	"errors"

	"catalog-desk/internal/domain"
)

var (
	ErrGroupNotFound   = errors.New("group not found")
	ErrVariantNotFound = errors.New("variant not found")
)

// CatalogRepository is the storage behind the catalog backend. Two
// implementations exist: an in-memory one for development and tests, and a
// Postgres one for deployments that need the catalog to survive restarts.
//
// Repositories assign ids to groups and variants that arrive without one.
// A group never persists with zero variants: removing the last variant
// removes the group.
type CatalogRepository interface {
	ListGroups(ctx context.Context, query string, limit, offset int) ([]domain.ProductGroup, int, error)
	GetGroup(ctx context.Context, id string) (domain.ProductGroup, error)
	CreateGroup(ctx context.Context, title string, variant domain.ProductVariant) (domain.ProductGroup, error)
	UpdateGroup(ctx context.Context, id, title string) (domain.ProductGroup, error)
	AddVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error)
	UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error)
	DeleteVariant(ctx context.Context, groupID, variantID string) error
	DeleteGroup(ctx context.Context, id string) error
	MoveVariant(ctx context.Context, fromGroupID, variantID, toGroupID string) error
	RateGroup(ctx context.Context, id string, score float64) error

	// AllGroups and ReplaceGroups serve the regrouping pipeline; AddGroups
	// serves spreadsheet ingest.
	AllGroups(ctx context.Context) ([]domain.ProductGroup, error)
	ReplaceGroups(ctx context.Context, groups []domain.ProductGroup) (int, error)
	AddGroups(ctx context.Context, groups []domain.ProductGroup) (int, error)
}
