package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mx-space/portal/internal/models"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
)

const (
	staleBatchSize    = 200
	staleConcurrency  = 8
	maxDeleteAttempts = 5
	retryBase         = 10 * time.Minute
)

// retryDelay doubles with every failed attempt.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return retryBase << (attempts - 1)
}

// SessionLookup reports whether a form session is still open.
type SessionLookup func(sessionID string) bool

// SweepStale deletes pending uploads older than maxAge whose session is
// gone, then drops their rows. At most staleBatchSize deletes run per call;
// rows of live sessions are skipped without counting against the batch.
// A failed delete backs the row off, and after maxDeleteAttempts failures
// the row stays pending for an operator to resolve. It returns the number
// of rows removed.
func (s *Service) SweepStale(ctx context.Context, maxAge time.Duration, live SessionLookup, remover tracker.Remover, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := s.now()
	cutoff := now.Add(-maxAge)

	orphans := make([]models.UploadReferenceModel, 0, staleBatchSize)
	var after *models.UploadReferenceModel
	for len(orphans) < staleBatchSize {
		page, err := s.Stale(ctx, cutoff, now, after, staleBatchSize)
		if err != nil {
			return 0, err
		}
		for _, ref := range page {
			if live != nil && live(ref.SessionID) {
				continue
			}
			orphans = append(orphans, ref)
			if len(orphans) == staleBatchSize {
				break
			}
		}
		if len(page) < staleBatchSize {
			break
		}
		after = &page[len(page)-1]
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	ok := make([]bool, len(orphans))
	g := new(errgroup.Group)
	g.SetLimit(staleConcurrency)
	for i, ref := range orphans {
		i, ref := i, ref
		g.Go(func() error {
			if ref.Kind == models.UploadKindImage {
				ok[i] = remover.DeleteImage(ctx, ref.URL).Success
			} else {
				ok[i] = remover.DeleteFile(ctx, ref.URL).Success
			}
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(orphans))
	var failed []models.UploadReferenceModel
	for i, ref := range orphans {
		if ok[i] {
			ids = append(ids, ref.ID)
		} else {
			failed = append(failed, ref)
		}
	}
	if err := s.Remove(ctx, ids...); err != nil {
		return 0, err
	}

	for _, ref := range failed {
		attempts, err := s.Defer(ctx, ref, now)
		if err != nil {
			return len(ids), err
		}
		fields := []zap.Field{zap.String("url", ref.URL), zap.String("session", ref.SessionID), zap.Int("attempts", attempts)}
		if attempts >= maxDeleteAttempts {
			logger.Error("stale upload delete failed, giving up", fields...)
		} else {
			logger.Warn("stale upload delete failed", fields...)
		}
	}
	return len(ids), nil
}
