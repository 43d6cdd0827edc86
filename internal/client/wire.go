package client

import (
	"time"

	"catalog-desk/internal/domain"
)

// The backend's group shape drifted across iterations (`group_id` vs `id`,
// `products` vs `variants`, `name` vs `title`). The canonical shape is
// id/title/variants; everything else is a legacy alias accepted on decode
// and normalized exactly here, nowhere else.

type variantWire struct {
	ID        string            `json:"id"`
	ProductID string            `json:"product_id"`
	Name      string            `json:"name"`
	SKU       string            `json:"sku"`
	ImageURL  string            `json:"imageUrl"`
	LegacyImg string            `json:"image_url"`
	Attrs     domain.Attributes `json:"attributes"`
	Chars     domain.Attributes `json:"characteristics"`
	Status    string            `json:"status"`
}

type groupWire struct {
	ID           string        `json:"id"`
	LegacyID     string        `json:"group_id"`
	Title        string        `json:"title"`
	LegacyName   string        `json:"name"`
	MainImageURL string        `json:"mainImageUrl"`
	LegacyImg    string        `json:"representative_image_url"`
	Score        float64       `json:"score"`
	UserScore    *float64      `json:"userScore"`
	LegacyScore  *float64      `json:"user_score"`
	Variants     []variantWire `json:"variants"`
	Products     []variantWire `json:"products"`
	Features     []string      `json:"significantFeatures"`
	LegacyFeats  []string      `json:"significant_features"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type pageWire struct {
	Items  []groupWire `json:"items"`
	Groups []groupWire `json:"groups"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (w variantWire) toDomain() domain.ProductVariant {
	attrs := w.Attrs
	if attrs == nil {
		attrs = w.Chars
	}
	status := domain.VariantStatus(w.Status)
	if !status.Valid() {
		status = domain.StatusNew
	}
	return domain.ProductVariant{
		ID:         firstNonEmpty(w.ID, w.ProductID),
		Name:       w.Name,
		SKU:        w.SKU,
		ImageURL:   firstNonEmpty(w.ImageURL, w.LegacyImg),
		Attributes: attrs,
		Status:     status,
	}
}

func (w groupWire) toDomain() domain.ProductGroup {
	variants := w.Variants
	if variants == nil {
		variants = w.Products
	}
	out := domain.ProductGroup{
		ID:           firstNonEmpty(w.ID, w.LegacyID),
		Title:        firstNonEmpty(w.Title, w.LegacyName),
		MainImageURL: firstNonEmpty(w.MainImageURL, w.LegacyImg),
		Score:        w.Score,
		UserScore:    w.UserScore,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
	if out.UserScore == nil {
		out.UserScore = w.LegacyScore
	}
	out.SignificantFeatures = w.Features
	if out.SignificantFeatures == nil {
		out.SignificantFeatures = w.LegacyFeats
	}
	out.Variants = make([]domain.ProductVariant, 0, len(variants))
	for _, v := range variants {
		out.Variants = append(out.Variants, v.toDomain())
	}
	if out.MainImageURL == "" {
		if rep := out.Representative(); rep != nil {
			out.MainImageURL = rep.ImageURL
		}
	}
	return out
}

func (w pageWire) toDomain() domain.Page {
	items := w.Items
	if items == nil {
		items = w.Groups
	}
	page := domain.Page{
		Total:  w.Total,
		Limit:  w.Limit,
		Offset: w.Offset,
	}
	page.Items = make([]domain.ProductGroup, 0, len(items))
	for _, g := range items {
		group := g.toDomain()
		if !group.Displayable() {
			continue
		}
		page.Items = append(page.Items, group)
	}
	return page
}
