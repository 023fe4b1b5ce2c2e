package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"teams_archiver/internal/domain"
)

// Catalog enumerates the remote hierarchy and emits file descriptors.
// Walk calls emit once per discovered file, in breadth-first order within
// each drive. Enumeration retries are the catalog's own concern; Walk
// returns an error only when the walk as a whole could not proceed.
type Catalog interface {
	Walk(ctx context.Context, emit func(domain.RemoteFile) error) error
}

// ContentSource opens a streaming reader over a remote file's bytes.
type ContentSource interface {
	Open(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error)
}

// ObjectStore is the durable key-addressed store for archived content.
type ObjectStore interface {
	// Key derives the deterministic canonical key for a descriptor.
	// The same file maps to the same key across runs.
	Key(file domain.RemoteFile) string

	// Upload streams r to key. Partial writes are never visible under
	// key: on failure the caller observes no object there.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists reports whether an object is present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Backup copies the object at key to a timestamped backup key and
	// returns that key. Backups are never pruned by the pipeline.
	Backup(ctx context.Context, key string, ts time.Time) (string, error)

	// Presign returns a time-limited GET URL for key. The URL itself is
	// never persisted, only the key is.
	Presign(ctx context.Context, key string) (string, error)
}

// ArchiveStore is the relational index of archived files.
type ArchiveStore interface {
	// GetByRemoteID returns the record for a stable remote identity,
	// or nil when the file has never been archived.
	GetByRemoteID(ctx context.Context, remoteID string) (*domain.ArchivedFile, error)

	// Upsert inserts or updates the record keyed on the remote identity.
	// Called only after the object durably exists at the storage key.
	Upsert(ctx context.Context, file *domain.ArchivedFile) (uuid.UUID, error)
}

type CourseStore interface {
	Upsert(ctx context.Context, name, remoteID string) (uuid.UUID, error)
}

type OfferingStore interface {
	Upsert(ctx context.Context, offering *domain.Offering) (uuid.UUID, error)
}

type ProfessorStore interface {
	Upsert(ctx context.Context, name, email string) (uuid.UUID, error)
}

type StudentStore interface {
	Upsert(ctx context.Context, name, email string) (uuid.UUID, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher propagates archived-file events downstream. Optional.
type Publisher interface {
	Publish(ctx context.Context, file *domain.ArchivedFile, isNew bool) error
	Close() error
}
