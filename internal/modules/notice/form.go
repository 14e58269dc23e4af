package notice

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mx-space/portal/internal/modules/upload/attachment"
	"github.com/mx-space/portal/internal/modules/upload/editor"
	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
)

// Gateway covers every upload call an announcement form makes.
type Gateway interface {
	editor.Gateway
	attachment.Gateway
}

type FormOptions struct {
	// Notice is the persisted announcement in edit mode, nil when creating.
	Notice       *Notice
	Placeholders []string
	SettleDelay  time.Duration
	Notifier     notify.Sink
	Logger       *zap.Logger
}

type SubmitInput struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Form is one create or edit session of an announcement. The editor, the
// attachment list and the registry share the session's lifecycle.
type Form struct {
	service  *Service
	registry *tracker.Registry
	buffer   *editor.Buffer
	editor   *editor.Editor
	files    *attachment.List
	notifier notify.Sink
	logger   *zap.Logger

	submitMu sync.Mutex
	mu       sync.Mutex
	id       int64
	title    string
	category string
}

func NewForm(svc *Service, gw Gateway, registry *tracker.Registry, opts FormOptions) *Form {
	f := &Form{
		service:  svc,
		registry: registry,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		category: DefaultCategory,
	}
	if f.notifier == nil {
		f.notifier = notify.Discard()
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}

	var content string
	var initial []string
	if n := opts.Notice; n != nil {
		f.id = n.ID
		f.title = n.Title
		if ValidCategory(n.Type) {
			f.category = n.Type
		}
		content = n.Content
		initial = n.Attachments
	}

	f.buffer = editor.NewBuffer(content)
	f.editor = editor.New(f.buffer, gw, registry, editor.Options{
		InitialContent: content,
		Placeholders:   opts.Placeholders,
		SettleDelay:    opts.SettleDelay,
		Notifier:       f.notifier,
		Logger:         f.logger,
	})
	f.files = attachment.New(gw, registry, attachment.Options{
		Initial:  initial,
		Notifier: f.notifier,
		Logger:   f.logger,
	})
	return f
}

// LoadForm opens an edit session for the announcement id.
func LoadForm(ctx context.Context, svc *Service, gw Gateway, registry *tracker.Registry, id int64, opts FormOptions) (*Form, error) {
	n, err := svc.Get(ctx, id)
	if err != nil {
		if opts.Notifier != nil {
			notify.Error(opts.Notifier, fetchFailure(err))
		}
		return nil, err
	}
	opts.Notice = n
	return NewForm(svc, gw, registry, opts), nil
}

func (f *Form) Editor() *editor.Editor { return f.editor }

func (f *Form) Buffer() *editor.Buffer { return f.buffer }

func (f *Form) Attachments() *attachment.List { return f.files }

func (f *Form) Registry() *tracker.Registry { return f.registry }

// ID is the announcement being edited, 0 until the first successful create.
func (f *Form) ID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *Form) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title
}

func (f *Form) Category() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.category
}

// Submit saves the announcement. On success the registry is disarmed so
// the uploads it holds now belong to the saved entity.
func (f *Form) Submit(ctx context.Context, in SubmitInput) (*Notice, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		notify.Error(f.notifier, msgTitleMissing)
		return nil, &gateway.ValidationError{Message: msgTitleMissing}
	}
	category := strings.TrimSpace(in.Type)
	if category == "" {
		category = DefaultCategory
	}
	if !ValidCategory(category) {
		notify.Error(f.notifier, msgBadCategory)
		return nil, &gateway.ValidationError{Message: msgBadCategory}
	}

	f.submitMu.Lock()
	defer f.submitMu.Unlock()

	payload := Payload{
		Title:       title,
		Content:     f.editor.Content(),
		Type:        category,
		Attachments: f.files.Attachments(),
	}
	if payload.Attachments == nil {
		payload.Attachments = []string{}
	}

	id := f.ID()
	act := createAction
	if id != 0 {
		act = updateAction
	}
	notify.Loading(f.notifier, act.loading)

	var (
		saved *Notice
		err   error
	)
	if id == 0 {
		saved, err = f.service.Create(ctx, payload)
	} else {
		saved, err = f.service.Update(ctx, id, payload)
	}
	if err != nil {
		f.logger.Warn("announcement submit failed", zap.String("session", f.registry.SessionID()), zap.Error(err))
		notify.Error(f.notifier, act.failure(err))
		return nil, err
	}

	f.mu.Lock()
	f.title = title
	f.category = category
	if saved != nil && saved.ID != 0 {
		f.id = saved.ID
	}
	f.mu.Unlock()

	f.registry.Disarm(ctx)
	notify.Success(f.notifier, act.success)
	return saved, nil
}

// Cancel sweeps every upload made in this session.
func (f *Form) Cancel(ctx context.Context) int {
	f.editor.Wait()
	return f.registry.Cleanup(ctx)
}

// Close tears the session down. Uploads still armed are swept and later
// ones are rejected.
func (f *Form) Close(ctx context.Context) int {
	f.editor.Unmount()
	return f.registry.Close(ctx)
}
