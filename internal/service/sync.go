package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"teams_archiver/internal/config"
	"teams_archiver/internal/domain"
)

// fatalAttempts bounds retries for payload and storage-write failures.
// Re-fetching malformed content from the same source rarely helps.
const fatalAttempts = 2

// IndexStores groups the relational index stores the pipeline writes to.
type IndexStores struct {
	Archives   ArchiveStore
	Courses    CourseStore
	Offerings  OfferingStore
	Professors ProfessorStore
	Students   StudentStore
}

// SyncService drives one archival run: it feeds descriptors from the
// catalog into a bounded queue, runs a fixed pool of workers over it, and
// aggregates per-item terminal states into run statistics.
//
// Each worker owns an item's whole lifecycle. The walker emits every
// stable identity at most once per run, so no two workers ever race on
// the same file; the index uniqueness constraint remains as a backstop.
type SyncService struct {
	catalog   Catalog
	content   ContentSource
	store     ObjectStore
	index     IndexStores
	txManager TransactionManager
	publisher Publisher
	clock     Clock
	logger    *slog.Logger
	config    config.SyncConfig

	mu            sync.Mutex
	offeringCache map[string]uuid.UUID
}

func NewSyncService(
	catalog Catalog,
	content ContentSource,
	store ObjectStore,
	index IndexStores,
	txManager TransactionManager,
	publisher Publisher,
	clock Clock,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		catalog:       catalog,
		content:       content,
		store:         store,
		index:         index,
		txManager:     txManager,
		publisher:     publisher,
		clock:         clock,
		logger:        logger.With("component", "sync"),
		config:        cfg,
		offeringCache: make(map[string]uuid.UUID),
	}
}

type itemResult struct {
	state     domain.ItemState
	isNew     bool
	published bool
	failure   *domain.ItemFailure
}

// Sync executes one end-to-end run. It returns statistics even when some
// items failed; partial success is the expected common case. The error
// return is reserved for failures that prevent the run from starting.
func (s *SyncService) Sync(ctx context.Context) (*domain.RunStats, error) {
	start := s.clock.Now()
	s.logger.Info("starting run",
		"workers", s.config.Workers,
		"queue_size", s.config.QueueSize,
	)

	s.mu.Lock()
	s.offeringCache = make(map[string]uuid.UUID)
	s.mu.Unlock()

	var contributedBy *uuid.UUID
	if s.config.ContributorEmail != "" {
		id, err := s.index.Students.Upsert(ctx, s.config.ContributorName, s.config.ContributorEmail)
		if err != nil {
			return nil, fmt.Errorf("register contributor: %w", err)
		}
		contributedBy = &id
	}

	queue := make(chan domain.RemoteFile, s.config.QueueSize)
	results := make(chan itemResult)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range queue {
				results <- s.processItem(ctx, file, contributedBy)
			}
		}()
	}

	walkErr := make(chan error, 1)
	go func() {
		defer close(queue)
		seen := make(map[string]struct{})
		walkErr <- s.catalog.Walk(ctx, func(file domain.RemoteFile) error {
			if _, dup := seen[file.ID]; dup {
				return nil
			}
			seen[file.ID] = struct{}{}
			select {
			case queue <- file:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	stats := &domain.RunStats{}
	for res := range results {
		stats.Discovered++
		switch res.state {
		case domain.ItemSkipped:
			stats.Skipped++
		case domain.ItemCommitted:
			stats.Committed++
			if res.isNew {
				stats.New++
			} else {
				stats.Updated++
			}
			if res.published {
				stats.Published++
			}
		case domain.ItemFailed:
			stats.Failed++
			stats.Failures = append(stats.Failures, *res.failure)
		}
	}

	if err := <-walkErr; err != nil && !errors.Is(err, context.Canceled) {
		kind := domain.KindOf(err)
		s.logger.Error("catalog walk failed", "kind", string(kind), "error", err)
		stats.Failed++
		stats.Failures = append(stats.Failures, domain.ItemFailure{
			Name: "catalog walk",
			Kind: kind,
			Err:  err.Error(),
		})
	}

	stats.Duration = s.clock.Now().Sub(start)

	if stats.Degraded() {
		s.logger.Warn("run degraded: remote unreachable, nothing committed",
			"discovered", stats.Discovered,
			"failed", stats.Failed,
		)
	}
	s.logger.Info("run completed",
		"discovered", stats.Discovered,
		"skipped", stats.Skipped,
		"new", stats.New,
		"updated", stats.Updated,
		"failed", stats.Failed,
		"published", stats.Published,
		"duration", stats.Duration,
	)

	return stats, nil
}

// AccessURL returns a time-limited download URL for an archived file.
// Only the storage key is ever persisted, so rotating the storage backend
// invalidates no index data.
func (s *SyncService) AccessURL(ctx context.Context, file *domain.ArchivedFile) (string, error) {
	if file.StorageKey == nil {
		return "", fmt.Errorf("file %s has no storage key", file.RemoteID)
	}
	return s.store.Presign(ctx, *file.StorageKey)
}

// processItem runs one descriptor's state machine to completion:
// decide, transfer, commit. Transitions are strictly forward and the
// index commit happens only after the object durably exists: an orphaned
// object is harmless, a dangling index row is not.
func (s *SyncService) processItem(ctx context.Context, file domain.RemoteFile, contributedBy *uuid.UUID) itemResult {
	logger := s.logger.With("remote_id", file.ID, "file", file.Name)

	offeringID, err := s.resolveOffering(ctx, file.Offering)
	if err != nil {
		return failed(file, err)
	}

	var existing *domain.ArchivedFile
	err = s.withRetry(ctx, logger, "load index record", func() error {
		var e error
		existing, e = s.index.Archives.GetByRemoteID(ctx, file.ID)
		return e
	})
	if err != nil {
		return failed(file, err)
	}

	action := decide(file, existing)
	logger.Debug("decided", "action", action.String())

	if action == domain.ActionSkip {
		return itemResult{state: domain.ItemSkipped}
	}

	key := s.store.Key(file)

	if action == domain.ActionConflictRename && existing.StorageKey != nil {
		backupKey, err := s.store.Backup(ctx, *existing.StorageKey, s.clock.Now())
		if err != nil {
			return failed(file, err)
		}
		logger.Info("previous version preserved", "backup_key", backupKey)
	}

	err = s.withRetry(ctx, logger, "transfer", func() error {
		rc, err := s.content.Open(ctx, file)
		if err != nil {
			return err
		}
		defer rc.Close()
		return s.store.Upload(ctx, key, rc, file.Size)
	})
	if err != nil {
		return failed(file, err)
	}

	now := s.clock.Now()
	record := &domain.ArchivedFile{
		OfferingID:    offeringID,
		ContributedBy: contributedBy,
		Name:          file.Name,
		Extension:     file.Extension,
		StorageKey:    &key,
		RemoteID:      file.ID,
		Fingerprint:   file.Fingerprint,
		UpdatedAt:     now,
	}
	err = s.withRetry(ctx, logger, "commit index record", func() error {
		id, e := s.index.Archives.Upsert(ctx, record)
		if e == nil {
			record.ID = id
		}
		return e
	})
	if err != nil {
		return failed(file, err)
	}

	res := itemResult{state: domain.ItemCommitted, isNew: existing == nil}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, record, res.isNew); err != nil {
			logger.Warn("publish failed", "error", err)
		} else {
			res.published = true
		}
	}

	logger.Info("committed", "action", action.String(), "key", key)
	return res
}

// resolveOffering lazily registers course, professor and offering rows on
// first sighting of a channel, then serves repeats from a run-local cache.
// The three upserts share one transaction.
func (s *SyncService) resolveOffering(ctx context.Context, remote domain.RemoteOffering) (uuid.UUID, error) {
	s.mu.Lock()
	if id, ok := s.offeringCache[remote.ChannelID]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var offeringID uuid.UUID
	err := s.withRetry(ctx, s.logger, "register offering", func() error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			courseID, err := s.index.Courses.Upsert(txCtx, remote.TeamName, remote.TeamID)
			if err != nil {
				return fmt.Errorf("upsert course: %w", err)
			}

			var professorID *uuid.UUID
			if remote.Owner != nil {
				id, err := s.index.Professors.Upsert(txCtx, remote.Owner.Name, remote.Owner.Email)
				if err != nil {
					return fmt.Errorf("upsert professor: %w", err)
				}
				professorID = &id
			}

			id, err := s.index.Offerings.Upsert(txCtx, &domain.Offering{
				Name:        remote.ChannelName,
				CourseID:    courseID,
				ProfessorID: professorID,
				Semester:    s.config.Semester,
				Year:        s.config.Year,
				ChannelID:   remote.ChannelID,
			})
			if err != nil {
				return fmt.Errorf("upsert offering: %w", err)
			}
			offeringID = id
			return nil
		})
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	s.offeringCache[remote.ChannelID] = offeringID
	s.mu.Unlock()
	return offeringID, nil
}

// withRetry runs fn under the retry policy: retryable kinds get the full
// configured attempt budget with exponential backoff and jitter, payload
// and storage-write failures get a small fixed budget, and constraint
// violations are surfaced immediately.
func (s *SyncService) withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		kind := domain.KindOf(err)
		if kind == domain.ConstraintViolation {
			return err
		}

		limit := s.config.Retry.MaxAttempts
		if !kind.Retryable() {
			limit = fatalAttempts
		}
		if attempt >= limit {
			return fmt.Errorf("%s: after %d attempts: %w", op, attempt, err)
		}

		backoff := s.backoff(attempt)
		logger.Warn("retrying",
			"op", op,
			"kind", string(kind),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// backoff doubles the initial delay per attempt, caps it, and adds jitter
// so concurrent lanes do not hammer the remote in lockstep.
func (s *SyncService) backoff(attempt int) time.Duration {
	d := s.config.Retry.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > s.config.Retry.MaxBackoff {
		d = s.config.Retry.MaxBackoff
	}
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func failed(file domain.RemoteFile, err error) itemResult {
	return itemResult{
		state: domain.ItemFailed,
		failure: &domain.ItemFailure{
			RemoteID: file.ID,
			Name:     file.Name,
			Kind:     domain.KindOf(err),
			Err:      err.Error(),
		},
	}
}
