package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProfessorStore and StudentStore are identical upsert-by-email stores.
// Deleting either nulls the references on offerings and archived files
// rather than cascading; files outlive the people who found them.

type ProfessorStore struct {
	db *sqlx.DB
}

func NewProfessorStore(db *sqlx.DB) *ProfessorStore {
	return &ProfessorStore{db: db}
}

func (s *ProfessorStore) Upsert(ctx context.Context, name, email string) (uuid.UUID, error) {
	return upsertPerson(ctx, GetExecutor(ctx, s.db), "professor", name, email)
}

type StudentStore struct {
	db *sqlx.DB
}

func NewStudentStore(db *sqlx.DB) *StudentStore {
	return &StudentStore{db: db}
}

func (s *StudentStore) Upsert(ctx context.Context, name, email string) (uuid.UUID, error) {
	return upsertPerson(ctx, GetExecutor(ctx, s.db), "student", name, email)
}

func upsertPerson(ctx context.Context, ex sqlx.ExtContext, table, name, email string) (uuid.UUID, error) {
	query := `
		INSERT INTO ` + table + ` (name, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var id uuid.UUID
	if err := sqlx.GetContext(ctx, ex, &id, query, name, email); err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}
