package tracker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
)

const defaultConcurrency = 8

// ErrClosed is returned when an asset is tracked after the owning form was torn down.
var ErrClosed = errors.New("upload session closed")

type Kind string

const (
	KindImage    Kind = "image"
	KindDocument Kind = "document"
)

type Origin string

const (
	OriginNew         Origin = "new"
	OriginPreExisting Origin = "pre-existing"
)

// Asset is one remote binary known to a form session.
type Asset struct {
	URL    string `json:"url"`
	Kind   Kind   `json:"kind"`
	Origin Origin `json:"origin"`
}

// Remover deletes remote binaries. *gateway.Client satisfies it.
type Remover interface {
	DeleteImage(ctx context.Context, url string) gateway.DeleteResult
	DeleteFile(ctx context.Context, url string) gateway.DeleteResult
}

// Ledger mirrors registry mutations into durable storage.
type Ledger interface {
	Record(ctx context.Context, sessionID string, a Asset) error
	Release(ctx context.Context, sessionID, url string) error
	Commit(ctx context.Context, sessionID string) error
	Purge(ctx context.Context, sessionID string, urls []string) error
}

type nopLedger struct{}

func (nopLedger) Record(context.Context, string, Asset) error { return nil }

func (nopLedger) Release(context.Context, string, string) error { return nil }

func (nopLedger) Commit(context.Context, string) error { return nil }

func (nopLedger) Purge(context.Context, string, []string) error { return nil }

// Registry is the per-form record of every asset uploaded this session.
// It starts armed; Disarm is final. Cleanup deletes everything recorded
// while armed and clears the lists.
type Registry struct {
	sessionID   string
	remover     Remover
	ledger      Ledger
	logger      *zap.Logger
	concurrency int

	mu        sync.Mutex
	images    []Asset
	documents []Asset
	armed     bool
	closed    bool
}

type Option func(*Registry)

func WithLedger(l Ledger) Option {
	return func(r *Registry) {
		if l != nil {
			r.ledger = l
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func New(sessionID string, remover Remover, opts ...Option) *Registry {
	r := &Registry{
		sessionID:   sessionID,
		remover:     remover,
		ledger:      nopLedger{},
		logger:      zap.NewNop(),
		concurrency: defaultConcurrency,
		armed:       true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) SessionID() string { return r.sessionID }

// TrackImage records an image uploaded this session. A call after Close
// deletes the image right away and returns ErrClosed.
func (r *Registry) TrackImage(ctx context.Context, url string) error {
	return r.track(ctx, Asset{URL: url, Kind: KindImage, Origin: OriginNew})
}

func (r *Registry) TrackDocument(ctx context.Context, url string) error {
	return r.track(ctx, Asset{URL: url, Kind: KindDocument, Origin: OriginNew})
}

func (r *Registry) track(ctx context.Context, a Asset) error {
	r.mu.Lock()
	if r.closed {
		armed := r.armed
		r.mu.Unlock()
		if armed {
			r.logger.Warn("late upload after close, deleting", zap.String("url", a.URL), zap.String("kind", string(a.Kind)))
			r.remove(context.WithoutCancel(ctx), a)
		}
		return ErrClosed
	}
	if a.Kind == KindImage {
		r.images = append(r.images, a)
	} else {
		r.documents = append(r.documents, a)
	}
	r.mu.Unlock()

	if err := r.ledger.Record(ctx, r.sessionID, a); err != nil {
		r.logger.Warn("ledger record failed", zap.String("url", a.URL), zap.Error(err))
	}
	return nil
}

// ForgetImage drops url from the image list once its delete has been dispatched.
func (r *Registry) ForgetImage(ctx context.Context, url string) bool {
	return r.forget(ctx, KindImage, url)
}

func (r *Registry) ForgetDocument(ctx context.Context, url string) bool {
	return r.forget(ctx, KindDocument, url)
}

func (r *Registry) forget(ctx context.Context, kind Kind, url string) bool {
	r.mu.Lock()
	list := &r.documents
	if kind == KindImage {
		list = &r.images
	}
	found := false
	kept := (*list)[:0]
	for _, a := range *list {
		if a.URL == url {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	*list = kept
	r.mu.Unlock()

	if found {
		if err := r.ledger.Release(ctx, r.sessionID, url); err != nil {
			r.logger.Warn("ledger release failed", zap.String("url", url), zap.Error(err))
		}
	}
	return found
}

func (r *Registry) Images() []Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Asset(nil), r.images...)
}

func (r *Registry) Documents() []Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Asset(nil), r.documents...)
}

func (r *Registry) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Disarm marks the session's assets as owned by a persisted entity.
// It reports whether this call performed the transition.
func (r *Registry) Disarm(ctx context.Context) bool {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return false
	}
	r.armed = false
	r.mu.Unlock()

	if err := r.ledger.Commit(ctx, r.sessionID); err != nil {
		r.logger.Warn("ledger commit failed", zap.String("session", r.sessionID), zap.Error(err))
	}
	return true
}

// Cleanup deletes every recorded asset and clears both lists. It returns
// the number of delete requests issued. Failures are logged only.
func (r *Registry) Cleanup(ctx context.Context) int {
	return r.sweep(ctx, false)
}

// Close runs a final Cleanup and rejects later tracking.
func (r *Registry) Close(ctx context.Context) int {
	return r.sweep(ctx, true)
}

func (r *Registry) sweep(ctx context.Context, closing bool) int {
	r.mu.Lock()
	if closing {
		r.closed = true
	}
	if !r.armed {
		r.mu.Unlock()
		return 0
	}
	assets := make([]Asset, 0, len(r.images)+len(r.documents))
	for _, list := range [][]Asset{r.images, r.documents} {
		for _, a := range list {
			if a.Origin == OriginNew {
				assets = append(assets, a)
			}
		}
	}
	r.images = nil
	r.documents = nil
	r.mu.Unlock()

	if len(assets) == 0 {
		return 0
	}

	// The sweep outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	var (
		mu      sync.Mutex
		deleted int
	)
	for _, a := range assets {
		a := a
		g.Go(func() error {
			if r.remove(ctx, a) {
				mu.Lock()
				deleted++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.ledger.Purge(ctx, r.sessionID, urlsOf(assets)); err != nil {
		r.logger.Warn("ledger purge failed", zap.String("session", r.sessionID), zap.Error(err))
	}
	r.logger.Info("session swept",
		zap.String("session", r.sessionID),
		zap.Int("requested", len(assets)),
		zap.Int("deleted", deleted),
	)
	return len(assets)
}

func (r *Registry) remove(ctx context.Context, a Asset) bool {
	var res gateway.DeleteResult
	if a.Kind == KindImage {
		res = r.remover.DeleteImage(ctx, a.URL)
	} else {
		res = r.remover.DeleteFile(ctx, a.URL)
	}
	if !res.Success {
		r.logger.Warn("orphan delete failed",
			zap.String("session", r.sessionID),
			zap.String("url", a.URL),
			zap.String("kind", string(a.Kind)),
			zap.String("message", res.Message),
		)
		return false
	}
	return true
}

func urlsOf(assets []Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.URL)
	}
	return out
}
