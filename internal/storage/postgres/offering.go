package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"teams_archiver/internal/domain"
)

type OfferingStore struct {
	db *sqlx.DB
}

func NewOfferingStore(db *sqlx.DB) *OfferingStore {
	return &OfferingStore{db: db}
}

// Upsert is keyed on the remote channel id. Ownership, semester and year
// are refreshed on conflict; the course link never changes for a channel.
func (s *OfferingStore) Upsert(ctx context.Context, offering *domain.Offering) (uuid.UUID, error) {
	query := `
		INSERT INTO offering (name, course_id, professor_id, semester, year, channel_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id) DO UPDATE SET
			name         = EXCLUDED.name,
			professor_id = EXCLUDED.professor_id,
			semester     = EXCLUDED.semester,
			year         = EXCLUDED.year
		RETURNING id`

	var id uuid.UUID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		offering.Name,
		offering.CourseID,
		offering.ProfessorID,
		offering.Semester,
		offering.Year,
		offering.ChannelID,
	)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// GetByChannelID returns the offering for a remote channel id, or nil when
// the channel has never been seen.
func (s *OfferingStore) GetByChannelID(ctx context.Context, channelID string) (*domain.Offering, error) {
	query := `
		SELECT id, name, course_id, professor_id, semester, year, channel_id, created_at
		FROM offering
		WHERE channel_id = $1`

	var offering domain.Offering
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &offering, query, channelID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &offering, nil
}
