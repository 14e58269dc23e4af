package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
)

const DefaultSettleDelay = 200 * time.Millisecond

const (
	removalConcurrency = 4
	msgUploadingImage  = "Uploading image..."
	msgImageUploaded   = "Image uploaded successfully!"
	msgUploadFailed    = "Upload failed"
)

// Gateway is the slice of the upload gateway the editor needs.
type Gateway interface {
	UploadImage(ctx context.Context, f gateway.File) gateway.UploadResult
	DeleteImage(ctx context.Context, url string) gateway.DeleteResult
}

type Options struct {
	// InitialContent is the persisted body in edit mode. Images found in it
	// are pre-existing and never swept with the session.
	InitialContent string
	Placeholders   []string
	SettleDelay    time.Duration
	// OnChange receives the sanitized markup after every accepted change.
	OnChange func(markup string)
	// OnImageUpload receives the relative URL of every inserted image.
	OnImageUpload func(url string)
	Notifier      notify.Sink
	Logger        *zap.Logger
}

// Editor bridges a Surface to the upload gateway and keeps the set of
// embedded images in step with the document.
type Editor struct {
	surface  Surface
	gw       Gateway
	registry *tracker.Registry
	opts     Options
	notifier notify.Sink
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	snapshot []string
	settle   *time.Timer
	pending  sync.WaitGroup
}

func New(surface Surface, gw Gateway, registry *tracker.Registry, opts Options) *Editor {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	e := &Editor{
		surface:  surface,
		gw:       gw,
		registry: registry,
		opts:     opts,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		state:    StateUninitialized,
	}
	if e.notifier == nil {
		e.notifier = notify.Discard()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if opts.InitialContent != "" {
		e.snapshot = ScanImages(opts.InitialContent)
	}
	return e
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mount starts the settle step. Only the first call has an effect.
func (e *Editor) Mount() {
	e.mu.Lock()
	if e.state != StateUninitialized {
		e.mu.Unlock()
		return
	}
	e.state = StateInitializing
	delay := e.opts.SettleDelay
	if delay > 0 {
		e.settle = time.AfterFunc(delay, e.finishSettle)
	}
	e.mu.Unlock()

	if delay == 0 {
		e.finishSettle()
	}
}

func (e *Editor) finishSettle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInitializing {
		return
	}
	markup := e.surface.HTML()
	if clean := Sanitize(markup, e.opts.Placeholders); clean != markup {
		e.surface.SetHTML(clean)
	}
	e.state = StateReady
	e.settle = nil
	e.logger.Debug("editor ready", zap.String("session", e.registry.SessionID()))
}

// ContentChanged reacts to an edit on the surface. It reports false when
// the change was ignored because the editor is not ready yet.
func (e *Editor) ContentChanged(ctx context.Context) bool {
	e.mu.Lock()
	if e.state != StateReady {
		e.mu.Unlock()
		return false
	}
	markup := e.surface.HTML()
	clean := Sanitize(markup, e.opts.Placeholders)
	current := ScanImages(markup)
	gone := removed(e.snapshot, current)
	e.snapshot = current
	e.mu.Unlock()

	if e.opts.OnChange != nil {
		e.opts.OnChange(clean)
	}
	if len(gone) > 0 {
		e.dropImages(ctx, gone)
	}
	return true
}

// Apply replaces the document with a snapshot from the surface and runs
// the change path.
func (e *Editor) Apply(ctx context.Context, markup string) bool {
	if e.State() != StateReady {
		return false
	}
	e.surface.SetHTML(markup)
	return e.ContentChanged(ctx)
}

// SetMarkdown is Apply for the surface's markdown mode.
func (e *Editor) SetMarkdown(ctx context.Context, source string) (bool, error) {
	markup, err := RenderMarkdown(source)
	if err != nil {
		return false, err
	}
	return e.Apply(ctx, markup), nil
}

// dropImages deletes images the user removed from the document. The
// deletes run in the background; Wait blocks until they finish.
func (e *Editor) dropImages(ctx context.Context, urls []string) {
	ctx = context.WithoutCancel(ctx)
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		g := new(errgroup.Group)
		g.SetLimit(removalConcurrency)
		for _, url := range urls {
			url := url
			g.Go(func() error {
				if res := e.gw.DeleteImage(ctx, url); !res.Success {
					e.logger.Warn("removed image delete failed", zap.String("url", url), zap.String("message", res.Message))
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	for _, url := range urls {
		e.registry.ForgetImage(ctx, url)
	}
}

// InsertImage validates, uploads and embeds f at the cursor. It returns the
// relative URL recorded for the session.
func (e *Editor) InsertImage(ctx context.Context, f gateway.File) (string, error) {
	if err := gateway.ValidateImage(f); err != nil {
		notify.Error(e.notifier, err.Error())
		return "", err
	}

	notify.Loading(e.notifier, msgUploadingImage)
	res := e.gw.UploadImage(ctx, f)
	if !res.Success || res.FileURL == "" {
		msg := res.Message
		if msg == "" {
			msg = msgUploadFailed
		}
		notify.Error(e.notifier, msg)
		if res.Err == nil {
			res.Err = errors.New(msg)
		}
		return "", res.Err
	}

	rel := gateway.Relative(res.FileURL)
	if err := e.registry.TrackImage(ctx, rel); err != nil {
		notify.Error(e.notifier, msgUploadFailed)
		return "", err
	}

	e.mu.Lock()
	e.surface.InsertImage(res.FileURL, f.Name)
	e.snapshot = append(e.snapshot, rel)
	e.mu.Unlock()

	if e.opts.OnImageUpload != nil {
		e.opts.OnImageUpload(rel)
	}
	notify.Success(e.notifier, msgImageUploaded)
	return rel, nil
}

// Content is the sanitized document.
func (e *Editor) Content() string {
	return Sanitize(e.surface.HTML(), e.opts.Placeholders)
}

// Images is the last scanned image set.
func (e *Editor) Images() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.snapshot...)
}

// Wait blocks until background deletes have finished.
func (e *Editor) Wait() {
	e.pending.Wait()
}

// Unmount stops a pending settle step and waits for background work.
func (e *Editor) Unmount() {
	e.mu.Lock()
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
	e.mu.Unlock()
	e.Wait()
}
