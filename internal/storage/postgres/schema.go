package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the item table, its search index, and the per-user join
// tables when they do not exist.
func (s *ItemStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	original_id TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	brand TEXT NOT NULL,
	make TEXT NOT NULL DEFAULT '',
	scale TEXT NOT NULL DEFAULT '',
	crawled_date TIMESTAMPTZ NOT NULL,
	c_ver INTEGER NOT NULL,
	images JSONB NOT NULL DEFAULT '[]'::jsonb,
	additional_info JSONB NOT NULL DEFAULT '{}'::jsonb,
	release_date_ai DATE,
	description_ai TEXT,
	make_ai TEXT,
	model_ai TEXT,
	a_ver INTEGER,
	search TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(description_ai, ''))
	) STORED,
	UNIQUE (brand, source_url)
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_search_idx ON %[1]s USING GIN (search)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_brand_c_ver_idx ON %[1]s (brand, c_ver)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_a_ver_idx ON %[1]s (a_ver NULLS FIRST)`, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_items (
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, item_id)
)`, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_likes (
	user_id TEXT NOT NULL,
	item_id TEXT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, item_id)
)`, table),
	}
}
