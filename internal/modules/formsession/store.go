package formsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mx-space/portal/internal/modules/gallery"
	"github.com/mx-space/portal/internal/modules/notice"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
)

type Kind string

const (
	KindNotice  Kind = "notice"
	KindGallery Kind = "gallery"
)

var ErrNotFound = errors.New("form session not found")

// Session is one open create or edit form. Exactly one of Notice and
// Gallery is set, matching Kind.
type Session struct {
	ID        string
	Kind      Kind
	UserID    string
	EntityID  int64
	CreatedAt time.Time

	Notice   *notice.Form
	Gallery  *gallery.Form
	Registry *tracker.Registry
	Recorder *notify.Recorder
}

// Cancel sweeps the session's uploads without closing it.
func (s *Session) Cancel(ctx context.Context) int {
	if s.Notice != nil {
		return s.Notice.Cancel(ctx)
	}
	return s.Gallery.Cancel(ctx)
}

// Close tears the form down; armed uploads are swept.
func (s *Session) Close(ctx context.Context) int {
	if s.Notice != nil {
		return s.Notice.Close(ctx)
	}
	return s.Gallery.Close(ctx)
}

// Store holds the open sessions of this instance.
type Store struct {
	leases Leases
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(leases Leases, ttl time.Duration, logger *zap.Logger) *Store {
	if leases == nil {
		leases = NewMemoryLeases()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{leases: leases, ttl: ttl, logger: logger, sessions: make(map[string]*Session)}
}

func (s *Store) Open(ctx context.Context, sess *Session) error {
	if err := s.leases.Grant(ctx, sess.ID, s.ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Debug("form session opened", zap.String("session", sess.ID), zap.String("kind", string(sess.Kind)), zap.String("user", sess.UserID))
	return nil
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Has reports whether the session is open on this instance.
func (s *Store) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Live reports whether any instance still holds the session open.
func (s *Store) Live(id string) bool {
	if s.Has(id) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	alive, err := s.leases.Alive(ctx, id)
	if err != nil {
		// Unknown means keep the uploads for now.
		return true
	}
	return alive
}

// Keep renews the session's lease. Any request on a session proves the page
// is still open, so a lease that lapsed before the idle sweep reached it is
// granted again. It returns ErrNotFound once the session is gone.
func (s *Store) Keep(ctx context.Context, id string) error {
	if !s.Has(id) {
		return ErrNotFound
	}
	ok, err := s.leases.Renew(ctx, id, s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.leases.Grant(ctx, id, s.ttl); err != nil {
			return err
		}
	}
	if !s.Has(id) {
		// closed while renewing
		_ = s.leases.Revoke(ctx, id)
		return ErrNotFound
	}
	return nil
}

// Close removes the session and tears it down. It returns the number of
// deletes issued by the final sweep.
func (s *Store) Close(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	if err := s.leases.Revoke(ctx, id); err != nil {
		s.logger.Warn("revoke lease failed", zap.String("session", id), zap.Error(err))
	}
	n := sess.Close(ctx)
	s.logger.Debug("form session closed", zap.String("session", id), zap.Int("deleted", n))
	return n, nil
}

// SweepIdle closes every session whose lease lapsed, the same way a page
// unload would. It returns the number of sessions closed.
func (s *Store) SweepIdle(ctx context.Context) int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	closed := 0
	for _, id := range ids {
		alive, err := s.leases.Alive(ctx, id)
		if err != nil {
			s.logger.Warn("lease lookup failed", zap.String("session", id), zap.Error(err))
			continue
		}
		if alive {
			continue
		}
		if n, err := s.Close(ctx, id); err == nil {
			closed++
			s.logger.Info("idle form session swept", zap.String("session", id), zap.Int("deleted", n))
		}
	}
	return closed
}

// CloseAll tears down every session, used on shutdown.
func (s *Store) CloseAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_, _ = s.Close(ctx, id)
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
