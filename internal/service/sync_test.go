package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"teams_archiver/internal/config"
	"teams_archiver/internal/domain"
	"teams_archiver/internal/service/mocks"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	catalog    *mocks.MockCatalog
	content    *mocks.MockContentSource
	store      *mocks.MockObjectStore
	archives   *mocks.MockArchiveStore
	courses    *mocks.MockCourseStore
	offerings  *mocks.MockOfferingStore
	professors *mocks.MockProfessorStore
	students   *mocks.MockStudentStore
	txManager  *mocks.MockTransactionManager
	publisher  *mocks.MockPublisher

	service *SyncService
	cfg     config.SyncConfig
	clock   stubClock
	logger  *slog.Logger
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.catalog = mocks.NewMockCatalog(s.ctrl)
	s.content = mocks.NewMockContentSource(s.ctrl)
	s.store = mocks.NewMockObjectStore(s.ctrl)
	s.archives = mocks.NewMockArchiveStore(s.ctrl)
	s.courses = mocks.NewMockCourseStore(s.ctrl)
	s.offerings = mocks.NewMockOfferingStore(s.ctrl)
	s.professors = mocks.NewMockProfessorStore(s.ctrl)
	s.students = mocks.NewMockStudentStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.cfg = config.SyncConfig{
		Workers:   2,
		QueueSize: 8,
		Semester:  "1",
		Year:      2026,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
		},
	}

	s.clock = stubClock{now: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)}
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = s.newService(s.publisher)
}

func (s *SyncServiceTestSuite) newService(pub Publisher) *SyncService {
	return NewSyncService(
		s.catalog,
		s.content,
		s.store,
		IndexStores{
			Archives:   s.archives,
			Courses:    s.courses,
			Offerings:  s.offerings,
			Professors: s.professors,
			Students:   s.students,
		},
		s.txManager,
		pub,
		s.clock,
		s.logger,
		s.cfg,
	)
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func remoteFile(id, fingerprint string) domain.RemoteFile {
	return domain.RemoteFile{
		ID:          id,
		Fingerprint: fingerprint,
		Name:        "lecture_notes.pdf",
		Extension:   "pdf",
		Size:        2048,
		DriveID:     "drive-1",
		Offering: domain.RemoteOffering{
			ChannelID:   "chan-1",
			ChannelName: "General",
			TeamID:      "team-1",
			TeamName:    "Databases",
		},
	}
}

func (s *SyncServiceTestSuite) expectWalk(files ...domain.RemoteFile) {
	s.catalog.EXPECT().Walk(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, emit func(domain.RemoteFile) error) error {
			for _, f := range files {
				if err := emit(f); err != nil {
					return err
				}
			}
			return nil
		},
	)
}

// expectOffering wires the lazy course/offering registration for chan-1.
func (s *SyncServiceTestSuite) expectOffering() uuid.UUID {
	offeringID := uuid.New()
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.courses.EXPECT().Upsert(gomock.Any(), "Databases", "team-1").Return(uuid.New(), nil)
	s.offerings.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, o *domain.Offering) (uuid.UUID, error) {
			s.Equal("chan-1", o.ChannelID)
			s.Equal("General", o.Name)
			s.Equal("1", o.Semester)
			s.Equal(2026, o.Year)
			return offeringID, nil
		},
	)
	return offeringID
}

func (s *SyncServiceTestSuite) TestSync_NewFile() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	offeringID := s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")
	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("content")), nil)

	upload := s.store.EXPECT().
		Upload(gomock.Any(), "backup_teams/Databases/General/lecture_notes.pdf", gomock.Any(), int64(2048)).
		Return(nil)

	recordID := uuid.New()
	commit := s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, f *domain.ArchivedFile) (uuid.UUID, error) {
			s.Equal(offeringID, f.OfferingID)
			s.Equal("item-1", f.RemoteID)
			s.Equal("etag-v1", f.Fingerprint)
			s.Require().NotNil(f.StorageKey)
			s.Equal("backup_teams/Databases/General/lecture_notes.pdf", *f.StorageKey)
			s.Nil(f.ContributedBy)
			s.Equal(s.clock.now, f.UpdatedAt)
			return recordID, nil
		},
	)
	// The index row must never point at an object that does not exist yet.
	gomock.InOrder(upload, commit)

	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), true).Return(nil)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Discovered)
	s.Equal(1, stats.New)
	s.Equal(0, stats.Updated)
	s.Equal(0, stats.Skipped)
	s.Equal(1, stats.Committed)
	s.Equal(1, stats.Published)
	s.Equal(0, stats.Failed)
}

func (s *SyncServiceTestSuite) TestSync_SecondRunSkips() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(
		&domain.ArchivedFile{RemoteID: "item-1", Fingerprint: "etag-v1"}, nil,
	)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Discovered)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Committed)
	s.Equal(0, stats.Failed)
}

func (s *SyncServiceTestSuite) TestSync_ConflictBackupBeforeUpload() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v2")

	oldKey := "backup_teams/Databases/General/lecture_notes.pdf"
	existing := &domain.ArchivedFile{
		ID:          uuid.New(),
		RemoteID:    "item-1",
		Fingerprint: "etag-v1",
		StorageKey:  &oldKey,
	}

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(existing, nil)
	s.store.EXPECT().Key(file).Return(oldKey)

	backup := s.store.EXPECT().Backup(gomock.Any(), oldKey, s.clock.now).
		Return("backup_teams/Databases/General/lecture_notes_backup_20260314T103000.pdf", nil)

	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("new")), nil)
	upload := s.store.EXPECT().Upload(gomock.Any(), oldKey, gomock.Any(), int64(2048)).Return(nil)
	// The previous version must be preserved before the canonical key is
	// overwritten.
	gomock.InOrder(backup, upload)

	s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(existing.ID, nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), false).Return(nil)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Updated)
	s.Equal(0, stats.New)
	s.Equal(1, stats.Committed)
}

func (s *SyncServiceTestSuite) TestSync_DuplicateDescriptorsProcessedOnce() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file, file, file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(
		&domain.ArchivedFile{RemoteID: "item-1", Fingerprint: "etag-v1"}, nil,
	).Times(1)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Discovered)
	s.Equal(1, stats.Skipped)
}

func (s *SyncServiceTestSuite) TestSync_OfferingRegisteredOncePerChannel() {
	ctx := context.Background()
	first := remoteFile("item-1", "etag-a")
	second := remoteFile("item-2", "etag-b")

	s.cfg.Workers = 1
	s.service = s.newService(s.publisher)

	s.expectWalk(first, second)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(
		&domain.ArchivedFile{RemoteID: "item-1", Fingerprint: "etag-a"}, nil,
	)
	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-2").Return(
		&domain.ArchivedFile{RemoteID: "item-2", Fingerprint: "etag-b"}, nil,
	)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(2, stats.Discovered)
	s.Equal(2, stats.Skipped)
}

func (s *SyncServiceTestSuite) TestSync_StorageFailureLeavesNoIndexRow() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")

	s.content.EXPECT().Open(gomock.Any(), file).
		Return(io.NopCloser(strings.NewReader("content")), nil).Times(2)
	s.store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(2048)).
		Return(domain.Errorf(domain.StorageWriteError, "bucket rejected write")).Times(2)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Discovered)
	s.Equal(0, stats.Committed)
	s.Equal(1, stats.Failed)
	s.Require().Len(stats.Failures, 1)
	s.Equal(domain.StorageWriteError, stats.Failures[0].Kind)
	s.Equal("item-1", stats.Failures[0].RemoteID)
}

func (s *SyncServiceTestSuite) TestSync_RateLimitRetriesAreBounded() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").
		Return(nil, domain.Errorf(domain.RemoteRateLimited, "429 too many requests")).
		Times(s.cfg.Retry.MaxAttempts)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Failed)
	s.Require().Len(stats.Failures, 1)
	s.Equal(domain.RemoteRateLimited, stats.Failures[0].Kind)
	s.Contains(stats.Failures[0].Err, "after 3 attempts")
}

func (s *SyncServiceTestSuite) TestSync_ConstraintViolationNeverRetried() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")
	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("content")), nil)
	s.store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(2048)).Return(nil)

	s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		Return(uuid.Nil, domain.Errorf(domain.ConstraintViolation, "duplicate remote_id")).
		Times(1)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Failed)
	s.Require().Len(stats.Failures, 1)
	s.Equal(domain.ConstraintViolation, stats.Failures[0].Kind)
}

func (s *SyncServiceTestSuite) TestSync_WalkFailureRecorded() {
	ctx := context.Background()

	s.catalog.EXPECT().Walk(gomock.Any(), gomock.Any()).
		Return(domain.Errorf(domain.RemoteUnavailable, "list teams: connection refused"))

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(0, stats.Discovered)
	s.Equal(1, stats.Failed)
	s.Require().Len(stats.Failures, 1)
	s.Equal("catalog walk", stats.Failures[0].Name)
	s.Equal(domain.RemoteUnavailable, stats.Failures[0].Kind)
}

func (s *SyncServiceTestSuite) TestSync_DegradedRun() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").
		Return(nil, domain.Errorf(domain.RemoteUnavailable, "connection reset")).
		Times(s.cfg.Retry.MaxAttempts)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.True(stats.Degraded())
}

func (s *SyncServiceTestSuite) TestSync_ContributorAttribution() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.cfg.ContributorName = "Ana Souza"
	s.cfg.ContributorEmail = "ana@example.edu"
	s.service = s.newService(s.publisher)

	studentID := uuid.New()
	s.students.EXPECT().Upsert(gomock.Any(), "Ana Souza", "ana@example.edu").Return(studentID, nil)

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")
	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("content")), nil)
	s.store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(2048)).Return(nil)
	s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, f *domain.ArchivedFile) (uuid.UUID, error) {
			s.Require().NotNil(f.ContributedBy)
			s.Equal(studentID, *f.ContributedBy)
			return uuid.New(), nil
		},
	)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), true).Return(nil)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.New)
}

func (s *SyncServiceTestSuite) TestSync_ContributorRegistrationError() {
	ctx := context.Background()

	s.cfg.ContributorName = "Ana Souza"
	s.cfg.ContributorEmail = "ana@example.edu"
	s.service = s.newService(s.publisher)

	s.students.EXPECT().Upsert(gomock.Any(), "Ana Souza", "ana@example.edu").
		Return(uuid.Nil, domain.Errorf(domain.TransientStoreError, "connection refused"))

	stats, err := s.service.Sync(ctx)

	s.Error(err)
	s.Nil(stats)
	s.Contains(err.Error(), "register contributor")
}

func (s *SyncServiceTestSuite) TestSync_PublisherNil() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.service = s.newService(nil)

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")
	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("content")), nil)
	s.store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(2048)).Return(nil)
	s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(uuid.New(), nil)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Committed)
	s.Equal(0, stats.Published)
}

func (s *SyncServiceTestSuite) TestSync_PublishFailureDoesNotFailItem() {
	ctx := context.Background()
	file := remoteFile("item-1", "etag-v1")

	s.expectWalk(file)
	s.expectOffering()

	s.archives.EXPECT().GetByRemoteID(gomock.Any(), "item-1").Return(nil, nil)
	s.store.EXPECT().Key(file).Return("backup_teams/Databases/General/lecture_notes.pdf")
	s.content.EXPECT().Open(gomock.Any(), file).Return(io.NopCloser(strings.NewReader("content")), nil)
	s.store.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any(), int64(2048)).Return(nil)
	s.archives.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(uuid.New(), nil)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), true).
		Return(domain.Errorf(domain.RemoteUnavailable, "broker unreachable"))

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(1, stats.Committed)
	s.Equal(0, stats.Published)
	s.Equal(0, stats.Failed)
}

func (s *SyncServiceTestSuite) TestSync_CancellationStopsWalk() {
	ctx, cancel := context.WithCancel(context.Background())

	s.catalog.EXPECT().Walk(gomock.Any(), gomock.Any()).DoAndReturn(
		func(walkCtx context.Context, emit func(domain.RemoteFile) error) error {
			cancel()
			return walkCtx.Err()
		},
	)

	stats, err := s.service.Sync(ctx)

	s.NoError(err)
	s.Equal(0, stats.Discovered)
	s.Equal(0, stats.Failed, "a cancelled walk is not an item failure")
}

func (s *SyncServiceTestSuite) TestAccessURL() {
	ctx := context.Background()
	key := "backup_teams/Databases/General/lecture_notes.pdf"

	s.store.EXPECT().Presign(gomock.Any(), key).Return("https://bucket.example/signed", nil)

	url, err := s.service.AccessURL(ctx, &domain.ArchivedFile{RemoteID: "item-1", StorageKey: &key})
	s.NoError(err)
	s.Equal("https://bucket.example/signed", url)

	_, err = s.service.AccessURL(ctx, &domain.ArchivedFile{RemoteID: "item-2"})
	s.Error(err)
}
