package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mx-space/portal/internal/models"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/pagination"
	"github.com/mx-space/portal/internal/pkg/response"
)

// Service persists the registry of every form session so uploads that
// outlive a crash or restart can still be found and swept.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

var _ tracker.Ledger = (*Service)(nil)

func (s *Service) Record(ctx context.Context, sessionID string, a tracker.Asset) error {
	ref := models.UploadReferenceModel{
		SessionID: sessionID,
		URL:       a.URL,
		Kind:      kindOf(a.Kind),
		Status:    models.UploadStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&ref).Error; err != nil {
		return fmt.Errorf("record upload %q: %w", a.URL, err)
	}
	return nil
}

func (s *Service) Release(ctx context.Context, sessionID, url string) error {
	return s.db.WithContext(ctx).
		Where("session_id = ? AND url = ? AND status = ?", sessionID, url, models.UploadStatusPending).
		Delete(&models.UploadReferenceModel{}).Error
}

// Commit marks every pending row of the session as owned by a saved entity.
func (s *Service) Commit(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&models.UploadReferenceModel{}).
		Where("session_id = ? AND status = ?", sessionID, models.UploadStatusPending).
		Update("status", models.UploadStatusCommitted).Error
}

func (s *Service) Purge(ctx context.Context, sessionID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("session_id = ? AND status = ? AND url IN ?", sessionID, models.UploadStatusPending, urls).
		Delete(&models.UploadReferenceModel{}).Error
}

// Stale returns up to limit pending rows created before cutoff that are due
// for a delete attempt at now, oldest first. A non-nil after resumes the scan
// past that row. Rows that used up maxDeleteAttempts are never returned.
func (s *Service) Stale(ctx context.Context, cutoff, now time.Time, after *models.UploadReferenceModel, limit int) ([]models.UploadReferenceModel, error) {
	var refs []models.UploadReferenceModel
	tx := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ? AND attempts < ?", models.UploadStatusPending, cutoff, maxDeleteAttempts).
		Where("retry_at IS NULL OR retry_at <= ?", now)
	if after != nil {
		tx = tx.Where("created_at > ? OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	tx = tx.Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

// Defer records a failed delete of ref and schedules the next attempt.
func (s *Service) Defer(ctx context.Context, ref models.UploadReferenceModel, now time.Time) (int, error) {
	attempts := ref.Attempts + 1
	retryAt := now.Add(retryDelay(attempts))
	err := s.db.WithContext(ctx).Model(&models.UploadReferenceModel{}).
		Where("id = ?", ref.ID).
		Updates(map[string]interface{}{"attempts": attempts, "retry_at": retryAt}).Error
	return attempts, err
}

// Remove deletes rows by primary key.
func (s *Service) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.UploadReferenceModel{}).Error
}

// Pending lists pending rows newest first.
func (s *Service) Pending(ctx context.Context, q pagination.Query) ([]models.UploadReferenceModel, response.Pagination, error) {
	tx := s.db.WithContext(ctx).Model(&models.UploadReferenceModel{}).
		Where("status = ?", models.UploadStatusPending).
		Order("created_at DESC")
	var refs []models.UploadReferenceModel
	pag, err := pagination.Paginate(tx, q, &refs)
	if err != nil {
		return nil, response.Pagination{}, err
	}
	return refs, pag, nil
}

func (s *Service) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.UploadReferenceModel{}).
		Where("status = ?", models.UploadStatusPending).
		Count(&count).Error
	return count, err
}

func kindOf(k tracker.Kind) string {
	if k == tracker.KindImage {
		return models.UploadKindImage
	}
	return models.UploadKindDocument
}
