package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"catalog-desk/internal/domain"

	"go.uber.org/zap"
)

// GroupingCore clusters variants into product groups. The real aggregation
// model lives outside this service; this is the deterministic placeholder
// the backend runs until that model is plugged in. Grouping is keyed on the
// leading tokens of the variant name, with strictness (0..1) controlling how
// many tokens must match: higher strictness means more tokens and therefore
// smaller, tighter groups.
type GroupingCore struct {
	logger *zap.Logger
}

// NewGroupingCore creates a grouping core.
func NewGroupingCore(logger *zap.Logger) *GroupingCore {
	return &GroupingCore{logger: logger}
}

const maxKeyTokens = 3

func groupingKey(name string, strictness float64) string {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(tokens) == 0 {
		return "misc"
	}
	if strictness < 0 {
		strictness = 0
	}
	if strictness > 1 {
		strictness = 1
	}
	n := 1 + int(math.Round(strictness*(maxKeyTokens-1)))
	if n > len(tokens) {
		n = len(tokens)
	}
	return strings.Join(tokens[:n], " ")
}

// SignificantFeatures returns the five attribute keys that occur most often
// across all variants.
func (c *GroupingCore) SignificantFeatures(groups []domain.ProductGroup) []string {
	counts := make(map[string]int)
	var order []string
	for _, g := range groups {
		for _, v := range g.Variants {
			for _, attr := range v.Attributes {
				if counts[attr.Key] == 0 {
					order = append(order, attr.Key)
				}
				counts[attr.Key]++
			}
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

// Regroup reclusters every variant in the catalog. Existing group membership
// is discarded; the result is a fresh set of groups each owning its variants
// exclusively.
func (c *GroupingCore) Regroup(groups []domain.ProductGroup, strictness float64) []domain.ProductGroup {
	var variants []domain.ProductVariant
	for _, g := range groups {
		for _, v := range g.Variants {
			variants = append(variants, v.Clone())
		}
	}
	regrouped := c.cluster(variants, strictness)
	c.logger.Info("regrouped catalog",
		zap.Int("variants", len(variants)),
		zap.Int("groups", len(regrouped)),
		zap.Float64("strictness", strictness),
	)
	return regrouped
}

// RegroupSlice reclusters only the named variants, leaving every other group
// untouched. Groups emptied by the extraction are dropped.
func (c *GroupingCore) RegroupSlice(groups []domain.ProductGroup, variantIDs []string, strictness float64) []domain.ProductGroup {
	selected := make(map[string]struct{}, len(variantIDs))
	for _, id := range variantIDs {
		selected[id] = struct{}{}
	}

	var extracted []domain.ProductVariant
	var kept []domain.ProductGroup
	for _, g := range groups {
		remaining := g.Clone()
		remaining.Variants = remaining.Variants[:0]
		for _, v := range g.Variants {
			if _, ok := selected[v.ID]; ok {
				extracted = append(extracted, v.Clone())
			} else {
				remaining.Variants = append(remaining.Variants, v.Clone())
			}
		}
		if len(remaining.Variants) > 0 {
			kept = append(kept, remaining)
		}
	}
	return append(kept, c.cluster(extracted, strictness)...)
}

func (c *GroupingCore) cluster(variants []domain.ProductVariant, strictness float64) []domain.ProductGroup {
	buckets := make(map[string][]domain.ProductVariant)
	var order []string
	for _, v := range variants {
		key := groupingKey(v.Name, strictness)
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], v)
	}

	groups := make([]domain.ProductGroup, 0, len(order))
	for _, key := range order {
		members := buckets[key]
		score := 0.5 + 0.05*float64(len(members))
		if score > 1 {
			score = 1
		}
		groups = append(groups, domain.ProductGroup{
			Title:        fmt.Sprintf("Group: %s", key),
			MainImageURL: members[0].ImageURL,
			Score:        math.Round(score*10000) / 10000,
			Variants:     members,
		})
	}
	return groups
}
