package domain

import (
	"time"
)

// VariantStatus is the review state of a single listing.
type VariantStatus string

const (
	StatusNew      VariantStatus = "new"
	StatusInReview VariantStatus = "in_review"
	StatusApproved VariantStatus = "approved"
	StatusRejected VariantStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s VariantStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ProductVariant is one concrete listing belonging to a group. Its ID is
// unique within the owning group, not globally.
type ProductVariant struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SKU        string        `json:"sku,omitempty"`
	ImageURL   string        `json:"imageUrl,omitempty"`
	Attributes Attributes    `json:"attributes"`
	Status     VariantStatus `json:"status"`
}

// Clone returns a deep copy of the variant.
func (v ProductVariant) Clone() ProductVariant {
	out := v
	out.Attributes = v.Attributes.Clone()
	return out
}

// ProductGroup is a cluster of listings judged equivalent by the grouping
// backend. Variants are ordered; the first one is the representative.
type ProductGroup struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	MainImageURL string           `json:"mainImageUrl,omitempty"`
	Score        float64          `json:"score,omitempty"`
	UserScore    *float64         `json:"userScore,omitempty"`
	Variants     []ProductVariant `json:"variants"`
	// SignificantFeatures are the attribute keys that best characterize the
	// group. Computed by the backend on read, never stored.
	SignificantFeatures []string  `json:"significantFeatures,omitempty"`
	CreatedAt           time.Time `json:"createdAt,omitempty"`
	UpdatedAt           time.Time `json:"updatedAt,omitempty"`
}

// Representative returns the display variant, nil for an empty group.
func (g *ProductGroup) Representative() *ProductVariant {
	if len(g.Variants) == 0 {
		return nil
	}
	return &g.Variants[0]
}

// Displayable reports whether the group holds at least one variant. A group
// with zero variants must never be shown or navigated to.
func (g *ProductGroup) Displayable() bool {
	return len(g.Variants) > 0
}

// Variant returns the variant with the given id, if present.
func (g *ProductGroup) Variant(id string) (*ProductVariant, bool) {
	for i := range g.Variants {
		if g.Variants[i].ID == id {
			return &g.Variants[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the group.
func (g ProductGroup) Clone() ProductGroup {
	out := g
	if g.UserScore != nil {
		score := *g.UserScore
		out.UserScore = &score
	}
	out.Variants = make([]ProductVariant, len(g.Variants))
	for i, v := range g.Variants {
		out.Variants[i] = v.Clone()
	}
	if g.SignificantFeatures != nil {
		out.SignificantFeatures = append([]string(nil), g.SignificantFeatures...)
	}
	return out
}

// Page is one materialized slice of the remote collection.
type Page struct {
	Items  []ProductGroup `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// CreateGroupPayload creates a new variant; when GroupID is empty the backend
// assigns a fresh singleton group.
type CreateGroupPayload struct {
	Title    string        `json:"title"`
	GroupID  string        `json:"groupId,omitempty"`
	Name     string        `json:"name,omitempty"`
	SKU      string        `json:"sku,omitempty"`
	ImageURL string        `json:"imageUrl,omitempty"`
	Attrs    Attributes    `json:"attributes,omitempty"`
	Status   VariantStatus `json:"status,omitempty"`
}

// UploadResult is what the backend reports after ingesting a spreadsheet.
// Warnings are non-fatal (e.g. skipped rows) and never block the new data.
type UploadResult struct {
	Status   string   `json:"status"`
	Loaded   int      `json:"loaded"`
	Warnings []string `json:"warnings,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
}
