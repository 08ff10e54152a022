package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

type PersonaRepository struct {
	db *sql.DB

	// Personas are read-only at request time, so lookups are cached
	// read-through for the process lifetime. Record changes ship with a
	// redeploy.
	mu    sync.RWMutex
	cache map[string]domain.Persona
}

func NewPersonaRepository(db *sql.DB) *PersonaRepository {
	return &PersonaRepository{
		db:    db,
		cache: make(map[string]domain.Persona),
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *PersonaRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS personas (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	title TEXT,
	avatar_url TEXT,
	description TEXT,
	greeting TEXT,
	system_prompt TEXT NOT NULL,
	temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_tokens INTEGER NOT NULL DEFAULT 0
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *PersonaRepository) GetByID(ctx context.Context, id string) (*domain.Persona, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	row := r.db.QueryRowContext(ctx, `
SELECT id, name, title, avatar_url, description, greeting, system_prompt, temperature, max_tokens
FROM personas
WHERE id = $1
`, id)

	var p domain.Persona
	err := row.Scan(
		&p.ID, &p.Name, &p.Title, &p.AvatarURL, &p.Description, &p.Greeting,
		&p.SystemPrompt, &p.Temperature, &p.MaxTokens,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrPersonaNotFound, "get persona", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan persona: %w", err)
	}

	r.mu.Lock()
	r.cache[p.ID] = p
	r.mu.Unlock()
	return &p, nil
}

func (r *PersonaRepository) List(ctx context.Context) ([]domain.Persona, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, title, avatar_url, description, greeting, system_prompt, temperature, max_tokens
FROM personas
ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var personas []domain.Persona
	for rows.Next() {
		var p domain.Persona
		err := rows.Scan(
			&p.ID, &p.Name, &p.Title, &p.AvatarURL, &p.Description, &p.Greeting,
			&p.SystemPrompt, &p.Temperature, &p.MaxTokens,
		)
		if err != nil {
			return nil, fmt.Errorf("scan persona row: %w", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return personas, nil
}
