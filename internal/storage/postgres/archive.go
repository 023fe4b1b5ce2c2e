package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"teams_archiver/internal/domain"
)

type ArchiveStore struct {
	db *sqlx.DB
}

func NewArchiveStore(db *sqlx.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// GetByRemoteID returns the archived file for a stable remote identity,
// or nil when the identity has never been committed.
func (s *ArchiveStore) GetByRemoteID(ctx context.Context, remoteID string) (*domain.ArchivedFile, error) {
	query := `
		SELECT id, offering_id, contributed_by, file_name, file_extension,
		       local_path, storage_key, remote_id, fingerprint, created_at, updated_at
		FROM archive
		WHERE remote_id = $1`

	var file domain.ArchivedFile
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &file, query, remoteID)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &file, nil
}

// Upsert is keyed on the remote identity: insert on first commit, update
// fingerprint, storage key, name and updated timestamp on content change.
// The row is written only after the object exists at the storage key.
func (s *ArchiveStore) Upsert(ctx context.Context, file *domain.ArchivedFile) (uuid.UUID, error) {
	query := `
		INSERT INTO archive (
			offering_id, contributed_by, file_name, file_extension,
			local_path, storage_key, remote_id, fingerprint, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (remote_id) DO UPDATE SET
			file_name      = EXCLUDED.file_name,
			file_extension = EXCLUDED.file_extension,
			storage_key    = EXCLUDED.storage_key,
			fingerprint    = EXCLUDED.fingerprint,
			updated_at     = EXCLUDED.updated_at
		RETURNING id`

	var id uuid.UUID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		file.OfferingID,
		file.ContributedBy,
		file.Name,
		file.Extension,
		file.LocalPath,
		file.StorageKey,
		file.RemoteID,
		file.Fingerprint,
		file.UpdatedAt,
	)
	if err != nil {
		return uuid.Nil, classify(err)
	}
	return id, nil
}

// ListByOffering returns all archived files of one offering, newest first.
func (s *ArchiveStore) ListByOffering(ctx context.Context, offeringID uuid.UUID) ([]domain.ArchivedFile, error) {
	query := `
		SELECT id, offering_id, contributed_by, file_name, file_extension,
		       local_path, storage_key, remote_id, fingerprint, created_at, updated_at
		FROM archive
		WHERE offering_id = $1
		ORDER BY updated_at DESC`

	var files []domain.ArchivedFile
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &files, query, offeringID)
	if err != nil {
		return nil, classify(err)
	}
	return files, nil
}
