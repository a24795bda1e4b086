// Package postgres provides the Postgres-backed item store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "items"

// Config controls the Postgres connection pool used for item rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ItemStore reads and writes item rows. One pool is opened per process and
// shared by every run.
type ItemStore struct {
	pool  Pool
	table string
}

// New creates a Postgres-backed ItemStore using the provided config.
func New(ctx context.Context, cfg Config) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool, table string) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ItemStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *ItemStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *ItemStore) selectColumns() string {
	return `id, original_id, source_url, title, brand, make, scale, crawled_date, c_ver, images, additional_info`
}

// ExistingBySourceURL returns stored items whose source URL is in urls.
func (s *ItemStore) ExistingBySourceURL(ctx context.Context, urls []string) ([]catalog.Item, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE source_url = ANY($1)`, s.selectColumns(), s.table)
	rows, err := s.pool.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("%w: query existing items: %w", catalog.ErrStore, err)
	}
	return collectItems(rows)
}

// StaleByVersion returns items of brand whose crawl version is below version,
// lowest first.
func (s *ItemStore) StaleByVersion(ctx context.Context, brand string, version, limit int) ([]catalog.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE c_ver < $1 AND brand = $2
ORDER BY c_ver ASC
LIMIT $3`, s.selectColumns(), s.table)
	rows, err := s.pool.Query(ctx, query, version, brand, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: query stale items: %w", catalog.ErrStore, err)
	}
	return collectItems(rows)
}

// Reconcile upserts every item in one transaction. A conflicting id overwrites
// all crawl-owned columns unless the stored crawl version is higher. Any row
// error rolls the whole batch back.
func (s *ItemStore) Reconcile(ctx context.Context, items []catalog.Item) (written []string, err error) {
	if len(items) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	id, original_id, source_url, title, brand, make, scale, crawled_date, c_ver, images, additional_info
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	original_id = EXCLUDED.original_id,
	source_url = EXCLUDED.source_url,
	title = EXCLUDED.title,
	brand = EXCLUDED.brand,
	make = EXCLUDED.make,
	scale = EXCLUDED.scale,
	crawled_date = EXCLUDED.crawled_date,
	c_ver = EXCLUDED.c_ver,
	images = EXCLUDED.images,
	additional_info = EXCLUDED.additional_info
WHERE %[1]s.c_ver <= EXCLUDED.c_ver`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", catalog.ErrStore, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	written = make([]string, 0, len(items))
	for _, it := range items {
		args, argErr := upsertArgs(it)
		if argErr != nil {
			return nil, fmt.Errorf("%w: %w", catalog.ErrStore, argErr)
		}
		tag, execErr := tx.Exec(ctx, query, args...)
		if execErr != nil {
			return nil, fmt.Errorf("%w: upsert %s: %w", catalog.ErrStore, it.ID, execErr)
		}
		// Zero rows means the stored crawl version is higher.
		if tag.RowsAffected() > 0 {
			written = append(written, it.ID)
		}
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		return nil, fmt.Errorf("%w: commit: %w", catalog.ErrStore, commitErr)
	}
	return written, nil
}

// StaleEnrichment returns rows whose enrichment version is null or below
// version, never-enriched rows first.
func (s *ItemStore) StaleEnrichment(ctx context.Context, version, limit int) ([]catalog.EnrichCandidate, error) {
	query := fmt.Sprintf(`SELECT id, title, brand FROM %s
WHERE a_ver IS NULL OR a_ver < $1
ORDER BY a_ver ASC NULLS FIRST
LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, version, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: query enrichment candidates: %w", catalog.ErrStore, err)
	}
	defer rows.Close()

	var out []catalog.EnrichCandidate
	for rows.Next() {
		var c catalog.EnrichCandidate
		if err := rows.Scan(&c.ID, &c.Title, &c.Brand); err != nil {
			return nil, fmt.Errorf("%w: scan enrichment candidate: %w", catalog.ErrStore, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate enrichment candidates: %w", catalog.ErrStore, err)
	}
	return out, nil
}

// ApplyEnrichment writes only the enrichment columns, in one transaction.
func (s *ItemStore) ApplyEnrichment(ctx context.Context, rows []catalog.Enrichment, version int) (err error) {
	if len(rows) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s
SET release_date_ai = $1, description_ai = $2, make_ai = $3, model_ai = $4, a_ver = $5
WHERE id = $6`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", catalog.ErrStore, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	for _, r := range rows {
		if _, execErr := tx.Exec(ctx, query, r.ReleaseDate, r.Description, r.Make, r.Model, version, r.ID); execErr != nil {
			return fmt.Errorf("%w: update enrichment %s: %w", catalog.ErrStore, r.ID, execErr)
		}
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("%w: commit: %w", catalog.ErrStore, commitErr)
	}
	return nil
}

func upsertArgs(it catalog.Item) ([]any, error) {
	images := it.Images
	if images == nil {
		images = []catalog.ImageRef{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal images for %s: %w", it.ID, err)
	}
	info := it.AdditionalInfo
	if info == nil {
		info = map[string]catalog.AttrValue{}
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal additional_info for %s: %w", it.ID, err)
	}
	return []any{
		it.ID,
		it.OriginalID,
		it.SourceURL,
		it.Title,
		it.Brand,
		it.Make,
		it.Scale,
		it.CrawledAt,
		it.CrawlVersion,
		imagesJSON,
		infoJSON,
	}, nil
}

func collectItems(rows pgx.Rows) ([]catalog.Item, error) {
	defer rows.Close()
	var out []catalog.Item
	for rows.Next() {
		var (
			it         catalog.Item
			imagesJSON []byte
			infoJSON   []byte
		)
		if err := rows.Scan(
			&it.ID,
			&it.OriginalID,
			&it.SourceURL,
			&it.Title,
			&it.Brand,
			&it.Make,
			&it.Scale,
			&it.CrawledAt,
			&it.CrawlVersion,
			&imagesJSON,
			&infoJSON,
		); err != nil {
			return nil, fmt.Errorf("%w: scan item: %w", catalog.ErrStore, err)
		}
		if len(imagesJSON) > 0 {
			if err := json.Unmarshal(imagesJSON, &it.Images); err != nil {
				return nil, fmt.Errorf("%w: decode images of %s: %w", catalog.ErrStore, it.ID, err)
			}
		}
		if len(infoJSON) > 0 {
			if err := json.Unmarshal(infoJSON, &it.AdditionalInfo); err != nil {
				return nil, fmt.Errorf("%w: decode additional_info of %s: %w", catalog.ErrStore, it.ID, err)
			}
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate items: %w", catalog.ErrStore, err)
	}
	return out, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
