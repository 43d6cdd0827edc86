package service

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"catalog-desk/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SpreadsheetService reads uploaded xlsx listings and writes the aggregated
// export. The first sheet is used; the header row names the columns. "name"
// is required, "sku", "image_url" and "status" are recognized, every other
// column becomes a variant attribute in sheet order.
type SpreadsheetService struct {
	logger *zap.Logger
}

// NewSpreadsheetService creates a spreadsheet service.
func NewSpreadsheetService(logger *zap.Logger) *SpreadsheetService {
	return &SpreadsheetService{logger: logger}
}

// Parse reads an xlsx workbook into singleton product groups, one per data
// row. Rows that cannot be ingested are skipped with a human-readable
// warning rather than failing the whole upload.
func (s *SpreadsheetService) Parse(r io.Reader) ([]domain.ProductGroup, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	header := rows[0]
	nameCol, skuCol, imageCol, statusCol := -1, -1, -1, -1
	type attrCol struct {
		index int
		key   string
	}
	var attrCols []attrCol
	for i, raw := range header {
		col := strings.ToLower(strings.TrimSpace(raw))
		switch col {
		case "name", "title":
			if nameCol < 0 {
				nameCol = i
			}
		case "sku":
			skuCol = i
		case "image_url", "imageurl", "image":
			imageCol = i
		case "status":
			statusCol = i
		case "":
		default:
			attrCols = append(attrCols, attrCol{index: i, key: strings.TrimSpace(raw)})
		}
	}
	if nameCol < 0 {
		return nil, nil, fmt.Errorf("sheet %q has no name column", sheets[0])
	}

	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var groups []domain.ProductGroup
	var warnings []string
	for n, row := range rows[1:] {
		rowNum := n + 2 // 1-based, after the header
		if len(row) == 0 {
			continue
		}
		name := cell(row, nameCol)
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("row %d skipped: missing name", rowNum))
			continue
		}

		variant := domain.ProductVariant{
			Name:     name,
			SKU:      cell(row, skuCol),
			ImageURL: cell(row, imageCol),
			Status:   domain.StatusNew,
		}
		if raw := cell(row, statusCol); raw != "" {
			status := domain.VariantStatus(strings.ToLower(raw))
			if status.Valid() {
				variant.Status = status
			} else {
				warnings = append(warnings, fmt.Sprintf("row %d: unknown status %q, defaulted to new", rowNum, raw))
			}
		}
		for _, ac := range attrCols {
			if value := cell(row, ac.index); value != "" {
				variant.Attributes.Set(ac.key, coerceScalar(value))
			}
		}

		groups = append(groups, domain.ProductGroup{
			Title:    name,
			Variants: []domain.ProductVariant{variant},
		})
	}

	s.logger.Info("parsed workbook",
		zap.Int("rows", len(rows)-1),
		zap.Int("loaded", len(groups)),
		zap.Int("warnings", len(warnings)),
	)
	return groups, warnings, nil
}

// coerceScalar keeps spreadsheet cells as the narrowest scalar that fits.
func coerceScalar(value string) any {
	if b, err := strconv.ParseBool(value); err == nil && (value == "true" || value == "false") {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// Export writes the aggregated catalog as an xlsx workbook: one row per
// variant with its group context, plus group_size/is_grouped columns for
// spreadsheet-side filtering.
func (s *SpreadsheetService) Export(w io.Writer, groups []domain.ProductGroup) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	// Union of attribute keys in first-seen order.
	var attrKeys []string
	seen := make(map[string]struct{})
	for _, g := range groups {
		for _, v := range g.Variants {
			for _, attr := range v.Attributes {
				if _, ok := seen[attr.Key]; !ok {
					seen[attr.Key] = struct{}{}
					attrKeys = append(attrKeys, attr.Key)
				}
			}
		}
	}

	header := []string{"group_id", "group_title", "group_size", "is_grouped", "variant_id", "name", "sku", "image_url", "status"}
	header = append(header, attrKeys...)
	for i, h := range header {
		cellName, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cellName, h); err != nil {
			return err
		}
	}

	rowNum := 2
	for _, g := range groups {
		for _, v := range g.Variants {
			values := []any{g.ID, g.Title, len(g.Variants), len(g.Variants) > 1, v.ID, v.Name, v.SKU, v.ImageURL, string(v.Status)}
			for _, key := range attrKeys {
				if value, ok := v.Attributes.Get(key); ok {
					values = append(values, value)
				} else {
					values = append(values, "")
				}
			}
			for i, value := range values {
				cellName, err := excelize.CoordinatesToCellName(i+1, rowNum)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(sheet, cellName, value); err != nil {
					return err
				}
			}
			rowNum++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
