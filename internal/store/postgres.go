package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const notifyChannel = "document_changes"

// Postgres is a Store backed by a single JSONB documents table. Change
// fan-out uses LISTEN/NOTIFY: every mutation notifies the collection name
// and each subscription re-evaluates its query on a dedicated connection.
//
// Ordered queries require an expression index following the naming scheme
// produced by IndexName; a missing index surfaces as ErrIndexRequired, the
// same degradation path the hosted store exhibits.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// IndexName is the expected name of the composite index supporting an
// ordered query on collection with the given equality fields.
func IndexName(collection string, equalityFields []string, orderBy string) string {
	fields := append([]string(nil), equalityFields...)
	sort.Strings(fields)
	parts := append([]string{"documents", collection}, fields...)
	parts = append(parts, orderBy, "idx")
	return strings.Join(parts, "_")
}

// Read returns the document or ErrNotFound.
func (p *Postgres) Read(ctx context.Context, collection, id string) (Document, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	var raw []byte
	err := p.db.QueryRow(ctx, query, collection, id).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Write upserts the document, merging or replacing its fields.
func (p *Postgres) Write(ctx context.Context, collection, id string, fields Document, merge bool) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	set := `data = EXCLUDED.data`
	if merge {
		set = `data = documents.data || EXCLUDED.data`
	}
	query := fmt.Sprintf(`
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET %s, updated_at = now()
	`, set)
	if _, err := p.db.Exec(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	p.notify(ctx, collection)
	return nil
}

// Create inserts the document, failing with ErrExists if present. Exactly
// one of two concurrent creators wins.
func (p *Postgres) Create(ctx context.Context, collection, id string, fields Document) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO NOTHING
	`
	result, err := p.db.Exec(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrExists
	}
	p.notify(ctx, collection)
	return nil
}

// Insert stores the document under a generated ID.
func (p *Postgres) Insert(ctx context.Context, collection string, fields Document) (string, error) {
	id := uuid.New().String()
	if err := p.Create(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// SetIfAbsent sets field in one conditional UPDATE, so two concurrent
// writers cannot both claim it.
func (p *Postgres) SetIfAbsent(ctx context.Context, collection, id, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode field value: %w", err)
	}
	query := `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3], $4::jsonb), updated_at = now()
		WHERE collection = $1 AND id = $2 AND NOT (data ? $3)
	`
	result, err := p.db.Exec(ctx, query, collection, id, field, raw)
	if err != nil {
		return fmt.Errorf("failed to set field: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := p.Read(ctx, collection, id); err != nil {
			return err
		}
		return ErrFieldExists
	}
	p.notify(ctx, collection)
	return nil
}

// Subscribe evaluates the query on a dedicated listening connection,
// delivering a snapshot immediately and after every change to the
// collection.
func (p *Postgres) Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (func(), error) {
	if q.OrderBy != "" {
		indexed, err := p.hasIndex(ctx, q)
		if err != nil {
			return nil, err
		}
		if !indexed {
			return nil, ErrIndexRequired
		}
	}

	snap, err := p.evaluate(ctx, q)
	if err != nil {
		return nil, err
	}

	sub := &pgSub{fn: fn}
	subCtx, cancel := context.WithCancel(context.Background())
	go p.listen(subCtx, q, sub)

	sub.deliver(snap)
	return cancel, nil
}

// pgSub serializes deliveries to one subscription: the initial snapshot on
// the subscriber's goroutine and re-evaluations on the listener goroutine
// must never run the callback concurrently.
type pgSub struct {
	mu sync.Mutex
	fn func(Snapshot)
}

func (s *pgSub) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn(snap)
}

func (p *Postgres) listen(ctx context.Context, q Query, sub *pgSub) {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Str("collection", q.Collection).Msg("Failed to acquire listener connection")
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		log.Error().Err(err).Msg("Failed to LISTEN for document changes")
		return
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("collection", q.Collection).Msg("Listener connection lost")
			}
			return
		}
		if notification.Payload != q.Collection {
			continue
		}
		snap, err := p.evaluate(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("collection", q.Collection).Msg("Failed to re-evaluate subscription")
			}
			continue
		}
		sub.deliver(snap)
	}
}

func (p *Postgres) notify(ctx context.Context, collection string) {
	if _, err := p.db.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, collection); err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("Failed to notify document change")
	}
}

func (p *Postgres) hasIndex(ctx context.Context, q Query) (bool, error) {
	fields := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		fields = append(fields, f.Field)
	}
	name := IndexName(q.Collection, fields, q.OrderBy)

	query := `SELECT EXISTS(SELECT 1 FROM pg_indexes WHERE tablename = 'documents' AND indexname = $1)`
	var exists bool
	if err := p.db.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	return exists, nil
}

func (p *Postgres) evaluate(ctx context.Context, q Query) (Snapshot, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []any{q.Collection}
	for _, f := range q.Filters {
		args = append(args, fmt.Sprint(f.Value))
		fmt.Fprintf(&sb, ` AND data->>'%s' = $%d`, f.Field, len(args))
	}
	if q.OrderBy != "" {
		direction := "ASC"
		if q.Descending {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, ` ORDER BY (data->>'%s')::numeric %s`, q.OrderBy, direction)
	} else {
		sb.WriteString(` ORDER BY id`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := p.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return Snapshot{}, fmt.Errorf("failed to scan document: %w", err)
		}
		var data Document
		if err := json.Unmarshal(raw, &data); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, Doc{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("error iterating documents: %w", err)
	}
	return Snapshot{Docs: docs}, nil
}
