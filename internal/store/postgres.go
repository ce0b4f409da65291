package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const notifyChannel = "document_changes"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	seq        BIGSERIAL,
	version    BIGINT      NOT NULL DEFAULT 1,
	doc        JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_seq ON documents (collection, seq);
`

// Connect creates a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Postgres keeps every collection in one JSONB table. Commits publish a
// NOTIFY inside their transaction; Run listens and re-reads affected
// documents and queries for the watchers. Watches only receive the initial
// value until Run is started.
type Postgres struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	watches *watchSet
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) (*Postgres, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool, log: log, watches: newWatchSet()}, nil
}

type change struct {
	Collection string `json:"c"`
	ID         string `json:"id,omitempty"`
}

// callerError carries an UpdateFunc error through the transaction so it
// reaches the caller unwrapped.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var ce callerError
	if errors.As(err, &ce) {
		return ce.err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) || errors.Is(err, ErrInvalidQuery) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func notify(ctx context.Context, tx pgx.Tx, collection, id string) error {
	payload, _ := json.Marshal(change{Collection: collection, ID: id})
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	return err
}

func (p *Postgres) Create(ctx context.Context, collection string, data any, opts ...CreateOption) (Snapshot, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	doc, err := ToDoc(data)
	if err != nil {
		return Snapshot{}, err
	}
	id := uuid.NewString()
	var version int64
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if len(o.serverTime) > 0 {
			var ts int64
			if err := tx.QueryRow(ctx, `SELECT (extract(epoch FROM clock_timestamp()) * 1000000)::bigint`).Scan(&ts); err != nil {
				return err
			}
			for _, f := range o.serverTime {
				doc[f] = float64(ts)
			}
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return callerError{err}
		}
		if err := tx.QueryRow(ctx,
			`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3::jsonb) RETURNING version`,
			collection, id, string(raw),
		).Scan(&version); err != nil {
			return err
		}
		return notify(ctx, tx, collection, id)
	})
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	return Snapshot{ID: id, Exists: true, Version: version, Data: doc}, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	s, err := p.get(ctx, p.pool, collection, id, false)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	if !s.Exists {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) get(ctx context.Context, q querier, collection, id string, lock bool) (Snapshot, error) {
	sql := `SELECT version, doc FROM documents WHERE collection = $1 AND id = $2`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		version int64
		raw     []byte
	)
	err := q.QueryRow(ctx, sql, collection, id).Scan(&version, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{ID: id}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: id, Exists: true, Version: version, Data: doc}, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fn UpdateFunc) (Snapshot, error) {
	var out Snapshot
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		cur, err := p.get(ctx, tx, collection, id, true)
		if err != nil {
			return err
		}
		if !cur.Exists {
			return ErrNotFound
		}
		patches, err := fn(cloneDoc(cur.Data))
		if err != nil {
			return callerError{err}
		}
		if len(patches) == 0 {
			out = cur
			return nil
		}
		next := cur.Data
		if err := applyPatches(next, patches); err != nil {
			return callerError{err}
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return callerError{err}
		}
		var version int64
		if err := tx.QueryRow(ctx,
			`UPDATE documents SET doc = $3::jsonb, version = version + 1, updated_at = now()
			 WHERE collection = $1 AND id = $2 RETURNING version`,
			collection, id, string(raw),
		).Scan(&version); err != nil {
			return err
		}
		out = Snapshot{ID: id, Exists: true, Version: version, Data: next}
		return notify(ctx, tx, collection, id)
	})
	if err != nil {
		return Snapshot{}, unavailable(err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return notify(ctx, tx, collection, id)
	})
	return unavailable(err)
}

func (p *Postgres) DeleteCollection(ctx context.Context, collection string) (int, error) {
	var n int64
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		if n == 0 {
			return nil
		}
		return notify(ctx, tx, collection, "")
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

var sqlOps = map[Op]string{OpEq: "=", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">="}

// buildFind renders q as SQL. Filter and order paths go through #> so nested
// fields work; values are compared as jsonb.
func buildFind(q Query) (string, []any, error) {
	var (
		sb   strings.Builder
		args = []any{q.Collection}
	)
	sb.WriteString(`SELECT id, version, doc FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		v, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		args = append(args, []string(f.Path), string(v))
		fmt.Fprintf(&sb, ` AND doc #> $%d::text[] %s $%d::jsonb`, len(args)-1, sqlOps[f.Op], len(args))
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	sb.WriteString(` ORDER BY `)
	if q.OrderBy != nil {
		args = append(args, []string(q.OrderBy))
		fmt.Fprintf(&sb, `doc #> $%d::text[] %s, `, len(args), dir)
	}
	fmt.Fprintf(&sb, `seq %s`, dir)
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %d`, q.Limit)
	}
	return sb.String(), args, nil
}

func (p *Postgres) Find(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	out, err := p.find(ctx, q)
	return out, unavailable(err)
}

func (p *Postgres) find(ctx context.Context, q Query) ([]Snapshot, error) {
	sql, args, err := buildFind(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Snapshot{}
	for rows.Next() {
		var (
			s   = Snapshot{Exists: true}
			raw []byte
		)
		if err := rows.Scan(&s.ID, &s.Version, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &s.Data); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) WatchDoc(ctx context.Context, collection, id string) (<-chan Snapshot, error) {
	wid, w := p.watches.addDoc(collection, id)
	ticket := p.watches.ticket()
	s, err := p.get(ctx, p.pool, collection, id, false)
	if err != nil {
		p.watches.remove(wid)
		return nil, unavailable(err)
	}
	p.watches.offerDoc(w, ticket, s)
	go func() {
		<-ctx.Done()
		p.watches.remove(wid)
	}()
	return w.feed.ch, nil
}

func (p *Postgres) WatchQuery(ctx context.Context, q Query) (<-chan []Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	wid, w := p.watches.addQuery(q)
	ticket := p.watches.ticket()
	res, err := p.find(ctx, q)
	if err != nil {
		p.watches.remove(wid)
		return nil, unavailable(err)
	}
	p.watches.offerQuery(w, ticket, res)
	go func() {
		<-ctx.Done()
		p.watches.remove(wid)
	}()
	return w.feed.ch, nil
}

// Run holds one pooled connection on LISTEN and fans change notifications
// out to watchers until ctx is done.
func (p *Postgres) Run(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return unavailable(err)
	}
	p.log.Info("listening for document changes", zap.String("channel", notifyChannel))
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return unavailable(err)
		}
		var c change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			p.log.Warn("bad change payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		p.dispatch(ctx, c)
	}
}

func (p *Postgres) dispatch(ctx context.Context, c change) {
	for _, w := range p.watches.docTargets(c.Collection, c.ID) {
		ticket := p.watches.ticket()
		s, err := p.get(ctx, p.pool, w.collection, w.id, false)
		if err != nil {
			p.log.Warn("refresh watched document", zap.String("collection", w.collection), zap.String("id", w.id), zap.Error(err))
			continue
		}
		p.watches.offerDoc(w, ticket, s)
	}
	for _, w := range p.watches.queryTargets(c.Collection) {
		ticket := p.watches.ticket()
		res, err := p.find(ctx, w.query)
		if err != nil {
			p.log.Warn("refresh watched query", zap.String("collection", w.query.Collection), zap.Error(err))
			continue
		}
		p.watches.offerQuery(w, ticket, res)
	}
}

// Close ends every watch. The pool belongs to the caller.
func (p *Postgres) Close() error {
	p.watches.closeAll()
	return nil
}
