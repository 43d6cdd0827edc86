package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-desk/internal/domain"

	"github.com/google/uuid"
)

// PostgresRepository persists the catalog in Postgres. Variant attributes
// are stored as raw JSON text rather than jsonb so their display order
// survives the round trip.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed catalog repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const groupFilter = `
	$1 = '' OR g.title ILIKE '%' || $1 || '%' OR EXISTS (
		SELECT 1 FROM variants v
		WHERE v.group_id = g.id
		  AND (v.name ILIKE '%' || $1 || '%'
		    OR v.sku ILIKE '%' || $1 || '%'
		    OR v.attributes ILIKE '%' || $1 || '%')
	)`

func (r *PostgresRepository) ListGroups(ctx context.Context, query string, limit, offset int) ([]domain.ProductGroup, int, error) {
	countQuery := `SELECT COUNT(*) FROM groups g WHERE ` + groupFilter
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count groups: %w", err)
	}

	listQuery := `
		SELECT g.id FROM groups g
		WHERE ` + groupFilter + `
		ORDER BY g.created_at DESC, g.id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, listQuery, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	groups := make([]domain.ProductGroup, 0, len(ids))
	for _, id := range ids {
		group, err := r.loadGroup(ctx, r.db, id)
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, group)
	}
	return groups, total, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *PostgresRepository) loadGroup(ctx context.Context, q querier, id string) (domain.ProductGroup, error) {
	groupQuery := `
		SELECT id, title, main_image_url, score, user_score, created_at, updated_at
		FROM groups WHERE id = $1
	`
	var group domain.ProductGroup
	var userScore sql.NullFloat64
	err := q.QueryRowContext(ctx, groupQuery, id).Scan(
		&group.ID, &group.Title, &group.MainImageURL, &group.Score,
		&userScore, &group.CreatedAt, &group.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	if err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to load group: %w", err)
	}
	if userScore.Valid {
		group.UserScore = &userScore.Float64
	}

	variantQuery := `
		SELECT id, name, sku, image_url, status, attributes
		FROM variants WHERE group_id = $1
		ORDER BY position
	`
	rows, err := q.QueryContext(ctx, variantQuery, id)
	if err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.ProductVariant
		var status, attrs string
		if err := rows.Scan(&v.ID, &v.Name, &v.SKU, &v.ImageURL, &status, &attrs); err != nil {
			return domain.ProductGroup{}, fmt.Errorf("failed to scan variant: %w", err)
		}
		v.Status = domain.VariantStatus(status)
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &v.Attributes); err != nil {
				return domain.ProductGroup{}, fmt.Errorf("failed to decode attributes: %w", err)
			}
		}
		group.Variants = append(group.Variants, v)
	}
	return group, rows.Err()
}

func (r *PostgresRepository) GetGroup(ctx context.Context, id string) (domain.ProductGroup, error) {
	return r.loadGroup(ctx, r.db, id)
}

func insertGroup(ctx context.Context, q querier, group domain.ProductGroup) error {
	groupQuery := `
		INSERT INTO groups (id, title, main_image_url, score, user_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var userScore sql.NullFloat64
	if group.UserScore != nil {
		userScore = sql.NullFloat64{Float64: *group.UserScore, Valid: true}
	}
	if _, err := q.ExecContext(ctx, groupQuery,
		group.ID, group.Title, group.MainImageURL, group.Score,
		userScore, group.CreatedAt, group.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	for i, v := range group.Variants {
		if err := insertVariant(ctx, q, group.ID, v, i); err != nil {
			return err
		}
	}
	return nil
}

func insertVariant(ctx context.Context, q querier, groupID string, v domain.ProductVariant, position int) error {
	attrs, err := json.Marshal(v.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	variantQuery := `
		INSERT INTO variants (group_id, id, position, name, sku, image_url, status, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := q.ExecContext(ctx, variantQuery,
		groupID, v.ID, position, v.Name, v.SKU, v.ImageURL, string(v.Status), string(attrs),
	); err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateGroup(ctx context.Context, title string, variant domain.ProductVariant) (domain.ProductGroup, error) {
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
	if err := insertGroup(ctx, r.db, group); err != nil {
		return domain.ProductGroup{}, err
	}
	return group, nil
}

func (r *PostgresRepository) AddVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	variant = normalizeVariant(variant)
	var position int
	posQuery := `SELECT COALESCE(MAX(position), -1) + 1 FROM variants WHERE group_id = $1`
	if err := r.db.QueryRowContext(ctx, posQuery, groupID).Scan(&position); err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to find variant position: %w", err)
	}
	if _, err := r.loadGroup(ctx, r.db, groupID); err != nil {
		return domain.ProductGroup{}, err
	}
	if err := insertVariant(ctx, r.db, groupID, variant, position); err != nil {
		return domain.ProductGroup{}, err
	}
	if err := r.touchGroup(ctx, groupID); err != nil {
		return domain.ProductGroup{}, err
	}
	return r.loadGroup(ctx, r.db, groupID)
}

func (r *PostgresRepository) touchGroup(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE groups SET updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to touch group: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateVariant(ctx context.Context, groupID string, variant domain.ProductVariant) (domain.ProductGroup, error) {
	attrs, err := json.Marshal(variant.Attributes)
	if err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to encode attributes: %w", err)
	}
	if !variant.Status.Valid() {
		variant.Status = domain.StatusNew
	}
	updateQuery := `
		UPDATE variants
		SET name = $3, sku = $4, image_url = $5, status = $6, attributes = $7
		WHERE group_id = $1 AND id = $2
	`
	result, err := r.db.ExecContext(ctx, updateQuery,
		groupID, variant.ID, variant.Name, variant.SKU, variant.ImageURL,
		string(variant.Status), string(attrs),
	)
	if err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to update variant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ProductGroup{}, err
	}
	if affected == 0 {
		if _, err := r.loadGroup(ctx, r.db, groupID); err != nil {
			return domain.ProductGroup{}, err
		}
		return domain.ProductGroup{}, ErrVariantNotFound
	}
	syncQuery := `
		UPDATE groups g SET main_image_url = v.image_url, updated_at = $2
		FROM variants v
		WHERE g.id = $1 AND v.group_id = g.id AND v.position = 0
	`
	if _, err := r.db.ExecContext(ctx, syncQuery, groupID, time.Now().UTC()); err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to sync group image: %w", err)
	}
	return r.loadGroup(ctx, r.db, groupID)
}

func (r *PostgresRepository) DeleteVariant(ctx context.Context, groupID, variantID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteVariantTx(ctx, tx, groupID, variantID); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteVariantTx(ctx context.Context, tx *sql.Tx, groupID, variantID string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE group_id = $1 AND id = $2`, groupID, variantID)
	if err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrGroupNotFound
		}
		return ErrVariantNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM variants WHERE group_id = $1`, groupID).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		// A group never persists empty.
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to delete emptied group: %w", err)
		}
		return nil
	}
	resequence := `
		UPDATE variants v SET position = ranked.new_position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position) - 1 AS new_position
			FROM variants WHERE group_id = $1
		) ranked
		WHERE v.group_id = $1 AND v.id = ranked.id
	`
	if _, err := tx.ExecContext(ctx, resequence, groupID); err != nil {
		return fmt.Errorf("failed to resequence variants: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// MoveVariant transfers ownership inside one transaction so the catalog
// never observes a variant owned by zero or two groups.
func (r *PostgresRepository) MoveVariant(ctx context.Context, fromGroupID, variantID, toGroupID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, toGroupID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrGroupNotFound
	}

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM variants WHERE group_id = $1`, toGroupID).Scan(&position); err != nil {
		return err
	}
	moveQuery := `UPDATE variants SET group_id = $3, position = $4 WHERE group_id = $1 AND id = $2`
	result, err := tx.ExecContext(ctx, moveQuery, fromGroupID, variantID, toGroupID, position)
	if err != nil {
		return fmt.Errorf("failed to move variant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVariantNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM variants WHERE group_id = $1`, fromGroupID).Scan(&remaining); err != nil {
		return err
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, fromGroupID); err != nil {
			return fmt.Errorf("failed to delete emptied source group: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) UpdateGroup(ctx context.Context, id, title string) (domain.ProductGroup, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE groups SET title = $2, updated_at = $3 WHERE id = $1`,
		id, title, time.Now().UTC(),
	)
	if err != nil {
		return domain.ProductGroup{}, fmt.Errorf("failed to update group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ProductGroup{}, err
	}
	if affected == 0 {
		return domain.ProductGroup{}, ErrGroupNotFound
	}
	return r.GetGroup(ctx, id)
}

func (r *PostgresRepository) RateGroup(ctx context.Context, id string, score float64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE groups SET user_score = $2, updated_at = $3 WHERE id = $1`,
		id, score, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to rate group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *PostgresRepository) AllGroups(ctx context.Context) ([]domain.ProductGroup, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM groups ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list group ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]domain.ProductGroup, 0, len(ids))
	for _, id := range ids {
		group, err := r.loadGroup(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (r *PostgresRepository) ReplaceGroups(ctx context.Context, groups []domain.ProductGroup) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variants`); err != nil {
		return 0, fmt.Errorf("failed to clear variants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups`); err != nil {
		return 0, fmt.Errorf("failed to clear groups: %w", err)
	}
	added, err := addGroupsTx(ctx, tx, groups)
	if err != nil {
		return 0, err
	}
	return added, tx.Commit()
}

func (r *PostgresRepository) AddGroups(ctx context.Context, groups []domain.ProductGroup) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added, err := addGroupsTx(ctx, tx, groups)
	if err != nil {
		return 0, err
	}
	return added, tx.Commit()
}

func addGroupsTx(ctx context.Context, tx *sql.Tx, groups []domain.ProductGroup) (int, error) {
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
		if err := insertGroup(ctx, tx, stored); err != nil {
			return 0, err
		}
		added++
	}
	return added, nil
}
