package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Postgres stores documents as JSONB rows in the documents table created by
// store.DB.Migrate. Change notification goes through a Notifier so several API
// processes can share live queries when it is backed by Redis.
type Postgres struct {
	db       *sql.DB
	notifier Notifier
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, notifier Notifier) *Postgres {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &Postgres{db: db, notifier: notifier}
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT data FROM documents WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Doc{}, err
	}
	return Doc{Collection: collection, ID: id, Data: data}, nil
}

func (p *Postgres) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	cond, err := containment(filters)
	if err != nil {
		return nil, err
	}
	return p.scan(ctx, `
		SELECT collection, id, data FROM documents
		WHERE collection = $1 AND data @> $2::jsonb
		ORDER BY id
	`, collection, cond)
}

func (p *Postgres) QueryGroup(ctx context.Context, group string, filters ...Filter) ([]Doc, error) {
	cond, err := containment(filters)
	if err != nil {
		return nil, err
	}
	return p.scan(ctx, `
		SELECT collection, id, data FROM documents
		WHERE (collection = $1 OR collection LIKE '%/' || $1) AND data @> $2::jsonb
		ORDER BY collection, id
	`, group, cond)
}

func (p *Postgres) scan(ctx context.Context, query string, args ...any) ([]Doc, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Doc
	for rows.Next() {
		var d Doc
		var raw []byte
		if err := rows.Scan(&d.Collection, &d.ID, &raw); err != nil {
			return nil, err
		}
		d.Data = map[string]any{}
		if err := json.Unmarshal(raw, &d.Data); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (p *Postgres) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	return id, p.Set(ctx, collection, id, data)
}

func (p *Postgres) Set(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, collection, id, string(raw)); err != nil {
		return err
	}
	return p.notifier.Publish(ctx, collection)
}

func (p *Postgres) Merge(ctx context.Context, collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(raw))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return p.notifier.Publish(ctx, collection)
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return err
	}
	return p.notifier.Publish(ctx, collection)
}

func (p *Postgres) Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Doc, error)) (Subscription, error) {
	query := func(ctx context.Context) ([]Doc, error) { return p.Query(ctx, collection, filters...) }
	return watchQuery(ctx, p.notifier, collection, query, fn)
}

// Close is a no-op; the connection belongs to store.DB.
func (p *Postgres) Close() error { return nil }

func containment(filters []Filter) (string, error) {
	cond := make(map[string]any, len(filters))
	for _, f := range filters {
		cond[f.Field] = f.Value
	}
	raw, err := json.Marshal(cond)
	return string(raw), err
}
