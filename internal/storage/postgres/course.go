package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type CourseStore struct {
	db *sqlx.DB
}

func NewCourseStore(db *sqlx.DB) *CourseStore {
	return &CourseStore{db: db}
}

// Upsert inserts a course on first sighting of its remote id and refreshes
// the display name on repeats.
func (s *CourseStore) Upsert(ctx context.Context, name, remoteID string) (uuid.UUID, error) {
	query := `
		INSERT INTO course (name, remote_id)
		VALUES ($1, $2)
		ON CONFLICT (remote_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var id uuid.UUID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query, name, remoteID)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}
