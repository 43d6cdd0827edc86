package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"catalog-desk/internal/domain"

	"github.com/google/uuid"
)

// MemoryRepository is the in-memory catalog storage. Groups keep insertion
// order, newest first, so freshly created entities surface on the first
// page.
type MemoryRepository struct {
	mu     sync.RWMutex
	order  []string
	groups map[string]domain.ProductGroup
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{groups: make(map[string]domain.ProductGroup)}
}

func (r *MemoryRepository) ListGroups(_ context.Context, query string, limit, offset int) ([]domain.ProductGroup, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.ProductGroup, 0, len(r.order))
	for _, id := range r.order {
		group := r.groups[id]
		if query == "" || groupMatches(group, query) {
			matched = append(matched, group)
		}
	}
	total := len(matched)

	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.ProductGroup{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	page := make([]domain.ProductGroup, 0, end-offset)
	for _, g := range matched[offset:end] {
		page = append(page, g.Clone())
	}
	return page, total, nil
}

// groupMatches checks the free-text query against the title, variant names,
// SKUs and attribute keys/values, mirroring how uploads are searched.
func groupMatches(group domain.ProductGroup, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(group.Title), q) {
		return true
	}
	for _, v := range group.Variants {
		if strings.Contains(strings.ToLower(v.Name), q) {
			return true
		}
		if v.SKU != "" && strings.Contains(strings.ToLower(v.SKU), q) {
			return true
		}
		for _, attr := range v.Attributes {
			if strings.Contains(strings.ToLower(attr.Key), q) {
				return true
			}
			if strings.Contains(strings.ToLower(fmt.Sprint(attr.Value)), q) {
				return true
			}
		}
	}
	return false
}

func (r *MemoryRepository) GetGroup(_ context.Context, id string) (domain.ProductGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[id]
	if !ok {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	return group.Clone(), nil
}

func (r *MemoryRepository) CreateGroup(_ context.Context, title string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	variant = normalizeVariant(variant)
	if title == "" {
		title = variant.Name
	}
	group := domain.ProductGroup{
		ID:           uuid.NewString(),
		Title:        title,
		MainImageURL: variant.ImageURL,
		Variants:     []domain.ProductVariant{variant},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.groups[group.ID] = group
	r.order = append([]string{group.ID}, r.order...)
	return group.Clone(), nil
}

func (r *MemoryRepository) AddVariant(_ context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addVariantLocked(groupID, variant)
}

func (r *MemoryRepository) addVariantLocked(groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	group, ok := r.groups[groupID]
	if !ok {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	variant = normalizeVariant(variant)
	group.Variants = append(group.Variants, variant)
	group.UpdatedAt = time.Now().UTC()
	r.groups[groupID] = group
	return group.Clone(), nil
}

func (r *MemoryRepository) UpdateVariant(_ context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[groupID]
	if !ok {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	for i := range group.Variants {
		if group.Variants[i].ID == variant.ID {
			variant = normalizeVariant(variant)
			group.Variants[i] = variant
			if i == 0 {
				group.MainImageURL = variant.ImageURL
			}
			group.UpdatedAt = time.Now().UTC()
			r.groups[groupID] = group
			return group.Clone(), nil
		}
	}
	return domain.ProductGroup{}, ErrVariantNotFound
}

func (r *MemoryRepository) DeleteVariant(_ context.Context, groupID, variantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.removeVariantLocked(groupID, variantID)
	return err
}

// removeVariantLocked detaches a variant, deleting the group when it was the
// last one. Returns the detached variant.
func (r *MemoryRepository) removeVariantLocked(groupID, variantID string) (domain.ProductVariant, error) {
	group, ok := r.groups[groupID]
	if !ok {
		return domain.ProductVariant{}, ErrGroupNotFound
	}
	for i := range group.Variants {
		if group.Variants[i].ID != variantID {
			continue
		}
		detached := group.Variants[i].Clone()
		group.Variants = append(group.Variants[:i], group.Variants[i+1:]...)
		if len(group.Variants) == 0 {
			r.deleteGroupLocked(groupID)
			return detached, nil
		}
		group.MainImageURL = group.Variants[0].ImageURL
		group.UpdatedAt = time.Now().UTC()
		r.groups[groupID] = group
		return detached, nil
	}
	return domain.ProductVariant{}, ErrVariantNotFound
}

func (r *MemoryRepository) DeleteGroup(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[id]; !ok {
		return ErrGroupNotFound
	}
	r.deleteGroupLocked(id)
	return nil
}

func (r *MemoryRepository) deleteGroupLocked(id string) {
	delete(r.groups, id)
	for i, ordered := range r.order {
		if ordered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// MoveVariant transfers ownership of a variant between groups. Under the
// repository lock the remove and add are one step, so ownership stays
// exclusive throughout.
func (r *MemoryRepository) MoveVariant(_ context.Context, fromGroupID, variantID, toGroupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[toGroupID]; !ok {
		return ErrGroupNotFound
	}
	variant, err := r.removeVariantLocked(fromGroupID, variantID)
	if err != nil {
		return err
	}
	_, err = r.addVariantLocked(toGroupID, variant)
	return err
}

func (r *MemoryRepository) UpdateGroup(_ context.Context, id, title string) (domain.ProductGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[id]
	if !ok {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	group.Title = title
	group.UpdatedAt = time.Now().UTC()
	r.groups[id] = group
	return group.Clone(), nil
}

func (r *MemoryRepository) RateGroup(_ context.Context, id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[id]
	if !ok {
		return ErrGroupNotFound
	}
	group.UserScore = &score
	group.UpdatedAt = time.Now().UTC()
	r.groups[id] = group
	return nil
}

func (r *MemoryRepository) AllGroups(_ context.Context) ([]domain.ProductGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ProductGroup, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.groups[id].Clone())
	}
	return out, nil
}

func (r *MemoryRepository) ReplaceGroups(_ context.Context, groups []domain.ProductGroup) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[string]domain.ProductGroup, len(groups))
	r.order = r.order[:0]
	return r.addGroupsLocked(groups), nil
}

func (r *MemoryRepository) AddGroups(_ context.Context, groups []domain.ProductGroup) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addGroupsLocked(groups), nil
}

func (r *MemoryRepository) addGroupsLocked(groups []domain.ProductGroup) int {
	added := 0
	now := time.Now().UTC()
	for _, group := range groups {
		if len(group.Variants) == 0 {
			continue
		}
		stored := group.Clone()
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		for i := range stored.Variants {
			stored.Variants[i] = normalizeVariant(stored.Variants[i])
		}
		if stored.MainImageURL == "" {
			stored.MainImageURL = stored.Variants[0].ImageURL
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		r.groups[stored.ID] = stored
		r.order = append([]string{stored.ID}, r.order...)
		added++
	}
	return added
}

func normalizeVariant(v domain.ProductVariant) domain.ProductVariant {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if !v.Status.Valid() {
		v.Status = domain.StatusNew
	}
	return v
}
