// Package postgres provides Postgres-backed catalog persistence.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
)

// Querier is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements catalog.ItemStore and catalog.PreviewStore on Postgres.
type Store struct {
	db     Querier
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects a pgx pool to the given DSN.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool, pool: pool, logger: logger}, nil
}

// NewStoreWithQuerier constructs a store from an existing querier (primarily
// for testing).
func NewStoreWithQuerier(db Querier, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const itemColumns = `id, external_id, source, situation, titles, characters, artist, link, tags, created_at, preview_data, preview_content_type`

func scanItem(row pgx.Row) (catalog.Item, error) {
	var item catalog.Item
	err := row.Scan(
		&item.ID,
		&item.ExternalID,
		&item.Source,
		&item.Situation,
		&item.Titles,
		&item.Characters,
		&item.Artist,
		&item.Link,
		&item.Tags,
		&item.CreatedAt,
		&item.PreviewData,
		&item.PreviewContentType,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, catalog.ErrNotFound
		}
		return catalog.Item{}, fmt.Errorf("scan item: %w", err)
	}
	return item, nil
}

// GetItem returns the item with the given id.
func (s *Store) GetItem(ctx context.Context, id int64) (catalog.Item, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	return scanItem(row)
}

// ListItems returns all items ordered by external id.
func (s *Store) ListItems(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY external_id, id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var items []catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// UpsertItem inserts or updates an item keyed by (external_id, source).
func (s *Store) UpsertItem(ctx context.Context, item catalog.Item) (bool, error) {
	var created bool
	err := s.db.QueryRow(ctx, `
INSERT INTO items (external_id, source, situation, titles, characters, artist, link, tags)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (external_id, source) DO UPDATE
SET situation = EXCLUDED.situation,
	titles = EXCLUDED.titles,
	characters = EXCLUDED.characters,
	artist = EXCLUDED.artist,
	link = EXCLUDED.link,
	tags = EXCLUDED.tags
RETURNING (xmax = 0)`,
		item.ExternalID,
		item.Source,
		item.Situation,
		item.Titles,
		item.Characters,
		item.Artist,
		item.Link,
		item.Tags,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert item: %w", err)
	}
	return created, nil
}

// UpdateFields applies metadata edits and returns the updated item.
func (s *Store) UpdateFields(ctx context.Context, id int64, fields catalog.ItemFields) (catalog.Item, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if fields.Titles != nil {
		args = append(args, fields.Titles)
		sets = append(sets, fmt.Sprintf("titles = $%d", len(args)))
	}
	if fields.Characters != nil {
		args = append(args, fields.Characters)
		sets = append(sets, fmt.Sprintf("characters = $%d", len(args)))
	}
	if fields.TagsSet {
		args = append(args, fields.Tags)
		sets = append(sets, fmt.Sprintf("tags = $%d", len(args)))
	}
	if len(sets) == 0 {
		return s.GetItem(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE items SET %s WHERE id = $%d RETURNING `+itemColumns,
		strings.Join(sets, ", "), len(args))
	return scanItem(s.db.QueryRow(ctx, query, args...))
}

// FindItem applies the recovery heuristics in order of specificity.
func (s *Store) FindItem(ctx context.Context, probe catalog.ItemProbe) (catalog.Item, error) {
	type attempt struct {
		where string
		args  []any
		skip  bool
	}
	attempts := []attempt{
		{
			where: "external_id = $1 AND source = $2",
			args:  []any{probe.ExternalID, probe.Source},
			skip:  probe.ExternalID == 0 || probe.Source == "",
		},
		{
			where: "external_id = $1",
			args:  []any{probe.ExternalID},
			skip:  probe.ExternalID == 0,
		},
		{
			where: "link = $1",
			args:  []any{probe.Link},
			skip:  probe.Link == "",
		},
	}
	for _, a := range attempts {
		if a.skip {
			continue
		}
		item, err := s.findOne(ctx, a.where, a.args)
		switch {
		case err == nil:
			return item, nil
		case errors.Is(err, catalog.ErrAmbiguous):
			return catalog.Item{}, err
		case errors.Is(err, catalog.ErrNotFound):
			continue
		default:
			return catalog.Item{}, err
		}
	}
	if probe.Title != "" {
		where := `EXISTS (SELECT 1 FROM unnest(titles) AS t WHERE t ILIKE '%' || $1 || '%')`
		args := []any{probe.Title}
		if probe.Artist != "" {
			where += ` AND artist ILIKE '%' || $2 || '%'`
			args = append(args, probe.Artist)
		}
		return s.findOne(ctx, where, args)
	}
	return catalog.Item{}, catalog.ErrNotFound
}

func (s *Store) findOne(ctx context.Context, where string, args []any) (catalog.Item, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE `+where+` LIMIT 2`, args...)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("find item: %w", err)
	}
	defer rows.Close()
	var found []catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return catalog.Item{}, err
		}
		found = append(found, item)
	}
	if err := rows.Err(); err != nil {
		return catalog.Item{}, fmt.Errorf("find item: %w", err)
	}
	switch len(found) {
	case 0:
		return catalog.Item{}, catalog.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return catalog.Item{}, catalog.ErrAmbiguous
	}
}

// SetLegacyPreview writes the deprecated single-blob preview field. Used by
// fixture restore only.
func (s *Store) SetLegacyPreview(ctx context.Context, id int64, blob catalog.Blob) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE items SET preview_data = $1, preview_content_type = $2 WHERE id = $3`,
		blob.Data, blob.ContentType, id)
	if err != nil {
		return fmt.Errorf("set legacy preview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// ReplaceAll deletes the item's previews and inserts the new set in order.
// Individual insert failures are logged and skipped.
func (s *Store) ReplaceAll(ctx context.Context, itemID int64, blobs []catalog.Blob) (int, error) {
	if _, err := s.db.Exec(ctx, `DELETE FROM preview_images WHERE item_id = $1`, itemID); err != nil {
		return 0, fmt.Errorf("clear previews: %w", err)
	}
	saved := 0
	for _, blob := range blobs {
		_, err := s.db.Exec(ctx,
			`INSERT INTO preview_images (item_id, "order", data, content_type) VALUES ($1, $2, $3, $4)`,
			itemID, saved, blob.Data, blob.ContentType)
		if err != nil {
			s.logger.Warn("skipping preview blob",
				zap.Int64("item_id", itemID),
				zap.Int("size", len(blob.Data)),
				zap.Error(err))
			continue
		}
		saved++
	}
	if saved == 0 && len(blobs) > 0 {
		return 0, fmt.Errorf("no preview blobs saved for item %d", itemID)
	}
	return saved, nil
}

// DeleteAt removes one preview and renumbers the remainder so orders stay
// contiguous from 0.
func (s *Store) DeleteAt(ctx context.Context, itemID int64, index int) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM preview_images WHERE item_id = $1 AND "order" = $2`, itemID, index)
	if err != nil {
		return fmt.Errorf("delete preview: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE preview_images SET "order" = "order" - 1 WHERE item_id = $1 AND "order" > $2`,
		itemID, index); err != nil {
		return fmt.Errorf("renumber previews: %w", err)
	}
	return nil
}

// Best returns the largest preview for the item, falling back to the legacy
// single-blob field.
func (s *Store) Best(ctx context.Context, itemID int64) (catalog.Blob, error) {
	var blob catalog.Blob
	err := s.db.QueryRow(ctx, `
SELECT data, content_type FROM preview_images
WHERE item_id = $1
ORDER BY octet_length(data) DESC, "order" ASC
LIMIT 1`, itemID).Scan(&blob.Data, &blob.ContentType)
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return catalog.Blob{}, fmt.Errorf("best preview: %w", err)
	}
	err = s.db.QueryRow(ctx,
		`SELECT preview_data, preview_content_type FROM items WHERE id = $1`, itemID).
		Scan(&blob.Data, &blob.ContentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Blob{}, catalog.ErrNotFound
		}
		return catalog.Blob{}, fmt.Errorf("legacy preview: %w", err)
	}
	if len(blob.Data) == 0 {
		return catalog.Blob{}, catalog.ErrNotFound
	}
	return blob, nil
}

// At returns the preview at the given order index.
func (s *Store) At(ctx context.Context, itemID int64, index int) (catalog.Blob, error) {
	var blob catalog.Blob
	err := s.db.QueryRow(ctx,
		`SELECT data, content_type FROM preview_images WHERE item_id = $1 AND "order" = $2`,
		itemID, index).Scan(&blob.Data, &blob.ContentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Blob{}, catalog.ErrNotFound
		}
		return catalog.Blob{}, fmt.Errorf("preview at %d: %w", index, err)
	}
	return blob, nil
}

// List returns preview metadata in order, payloads omitted.
func (s *Store) List(ctx context.Context, itemID int64) ([]catalog.PreviewImage, error) {
	rows, err := s.db.Query(ctx, `
SELECT item_id, "order", content_type FROM preview_images
WHERE item_id = $1 ORDER BY "order"`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	defer rows.Close()
	var out []catalog.PreviewImage
	for rows.Next() {
		var img catalog.PreviewImage
		if err := rows.Scan(&img.ItemID, &img.Order, &img.ContentType); err != nil {
			return nil, fmt.Errorf("scan preview: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	return out, nil
}
