package domain

import (
	"time"

	"github.com/google/uuid"
)

// Course is a subject taught at the institution, mirroring a remote Team.
type Course struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	RemoteID  string    `db:"remote_id"` // stable Team id in the remote catalog
	CreatedAt time.Time `db:"created_at"`
}

// Offering is one time-bound run of a course, mirroring a remote Channel.
type Offering struct {
	ID          uuid.UUID  `db:"id"`
	Name        string     `db:"name"`
	CourseID    uuid.UUID  `db:"course_id"`
	ProfessorID *uuid.UUID `db:"professor_id"`
	Semester    string     `db:"semester"`
	Year        int        `db:"year"`
	ChannelID   string     `db:"channel_id"` // stable Channel id in the remote catalog
	CreatedAt   time.Time  `db:"created_at"`
}

// Professor owns an offering. Detected from remote team owners.
type Professor struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// Student is a contributor whose run discovered a file. Optional;
// system runs carry no contributor.
type Student struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

// ArchivedFile is the unit the pipeline manages: one remote drive item
// archived to object storage and indexed.
//
// RemoteID is the idempotency key: it survives rename and move, and is
// unique across all archived files. StorageKey is nil until a confirmed
// transfer wrote the object there; LocalPath is a legacy locator from
// disk-based runs and may coexist with StorageKey.
type ArchivedFile struct {
	ID            uuid.UUID  `db:"id"`
	OfferingID    uuid.UUID  `db:"offering_id"`
	ContributedBy *uuid.UUID `db:"contributed_by"`
	Name          string     `db:"file_name"`
	Extension     string     `db:"file_extension"`
	LocalPath     *string    `db:"local_path"`
	StorageKey    *string    `db:"storage_key"`
	RemoteID      string     `db:"remote_id"`
	Fingerprint   string     `db:"fingerprint"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// RemoteFile is a file descriptor emitted by the catalog walker.
// Fingerprint is the remote content fingerprint (eTag); it changes iff the
// content changes. Some tenants omit eTags, in which case the walker falls
// back to the item id and the file is fetched once and never refreshed.
type RemoteFile struct {
	ID          string // stable drive item id
	Fingerprint string
	Name        string
	Extension   string
	Size        int64
	DriveID     string
	Offering    RemoteOffering
}

// RemoteOffering carries the catalog context a descriptor was found in,
// enough to lazily register course and offering rows on first sighting.
type RemoteOffering struct {
	ChannelID   string
	ChannelName string
	TeamID      string
	TeamName    string
	Owner       *RemoteOwner
}

// RemoteOwner is a team owner as reported by the remote catalog.
type RemoteOwner struct {
	Name  string
	Email string
}
