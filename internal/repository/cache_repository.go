package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/glup3/ghstats/internal/db"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/jackc/pgx/v5"
)

// CacheRepository stores snapshots in cache_entries, cache_pages and cache_page_data.
// A commit rewrites all rows of a key in one transaction.
type CacheRepository struct {
	db *db.Database
}

func NewCacheRepository(db *db.Database) *CacheRepository {
	return &CacheRepository{db: db}
}

func (r *CacheRepository) PageList(ctx context.Context, key stats.Key) ([]stats.PageEntry, error) {
	sql, args, err := sq.
		Select("page_number", "etag").
		From("cache_pages").
		Where(sq.Eq{"cache_key": key.String()}).
		OrderBy("page_number").
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (stats.PageEntry, error) {
		var entry stats.PageEntry
		err := row.Scan(&entry.Page, &entry.ETag)
		return entry, err
	})
}

func (r *CacheRepository) PageData(ctx context.Context, key stats.Key, etag string) ([]stats.RepoRecord, bool, error) {
	sql, args, err := sq.
		Select("repos").
		From("cache_page_data").
		Where(sq.Eq{"cache_key": key.String(), "etag": etag}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, false, fmt.Errorf("error building SQL: %w", err)
	}

	var raw []byte
	err = r.db.Pool.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var repos []stats.RepoRecord
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, false, fmt.Errorf("failed to parse page data: %w", err)
	}

	return repos, true, nil
}

func (r *CacheRepository) Aggregate(ctx context.Context, key stats.Key) (*stats.Result, error) {
	sql, args, err := sq.
		Select("aggregate").
		From("cache_entries").
		Where(sq.Eq{"cache_key": key.String()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()

	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	var raw []byte
	err = r.db.Pool.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result stats.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate: %w", err)
	}

	return &result, nil
}

func (r *CacheRepository) Commit(ctx context.Context, key stats.Key, snapshot stats.Snapshot) error {
	aggregate, err := json.Marshal(snapshot.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	statements := []sq.Sqlizer{
		sq.Insert("cache_entries").
			Columns("cache_key", "aggregate", "updated_at").
			Values(key.String(), string(aggregate), sq.Expr("NOW()")).
			Suffix(`
				ON CONFLICT (cache_key)
				DO UPDATE SET
					aggregate = EXCLUDED.aggregate,
					updated_at = EXCLUDED.updated_at
			`).
			PlaceholderFormat(sq.Dollar),
		sq.Delete("cache_pages").
			Where(sq.Eq{"cache_key": key.String()}).
			PlaceholderFormat(sq.Dollar),
		sq.Delete("cache_page_data").
			Where(sq.Eq{"cache_key": key.String()}).
			PlaceholderFormat(sq.Dollar),
	}

	if len(snapshot.Pages) > 0 {
		query := sq.Insert("cache_pages").Columns("cache_key", "page_number", "etag")
		for _, entry := range snapshot.Pages {
			query = query.Values(key.String(), entry.Page, entry.ETag)
		}
		statements = append(statements, query.PlaceholderFormat(sq.Dollar))
	}

	if len(snapshot.Data) > 0 {
		query := sq.Insert("cache_page_data").Columns("cache_key", "etag", "repos")
		for etag, repos := range snapshot.Data {
			if repos == nil {
				repos = []stats.RepoRecord{}
			}
			value, err := json.Marshal(repos)
			if err != nil {
				return fmt.Errorf("failed to marshal page data: %w", err)
			}
			query = query.Values(key.String(), etag, string(value))
		}
		statements = append(statements, query.PlaceholderFormat(sq.Dollar))
	}

	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		for _, statement := range statements {
			sql, args, err := statement.ToSql()
			if err != nil {
				return fmt.Errorf("error building SQL: %w", err)
			}

			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return err
			}
		}
		return nil
	})
}
