package gallery

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
	"github.com/mx-space/portal/internal/pkg/portalapi"
)

const eventDateLayout = "2006-01-02"

type Input struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Department     string `json:"department"`
	EventDate      string `json:"eventDate"`
	GoogleDriveURL string `json:"googleDriveUrl"`
}

type FormOptions struct {
	// Item is the persisted gallery item in edit mode, nil when creating.
	Item *Item
	// Department preselects the department of a new item.
	Department string
	Notifier   notify.Sink
	Logger     *zap.Logger
}

// Form is one create or edit session of a gallery item. The thumbnail is
// held in memory and only leaves the service with the submit request.
type Form struct {
	service  *Service
	registry *tracker.Registry
	notifier notify.Sink
	logger   *zap.Logger

	submitMu   sync.Mutex
	mu         sync.Mutex
	id         int64
	department string
	thumbnail  *gateway.File
}

func NewForm(svc *Service, registry *tracker.Registry, opts FormOptions) *Form {
	f := &Form{
		service:    svc,
		registry:   registry,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		department: opts.Department,
	}
	if f.notifier == nil {
		f.notifier = notify.Discard()
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if opts.Item != nil {
		f.id = opts.Item.ID
		f.department = opts.Item.Department
	}
	return f
}

// LoadForm opens an edit session for the gallery item id.
func LoadForm(ctx context.Context, svc *Service, registry *tracker.Registry, id int64, opts FormOptions) (*Form, error) {
	item, err := svc.Get(ctx, id)
	if err != nil {
		if opts.Notifier != nil {
			msg := msgFetchFailed
			if portalapi.StatusOf(err) == http.StatusNotFound {
				msg = msgNotFound
			}
			notify.Error(opts.Notifier, msg)
		}
		return nil, err
	}
	opts.Item = item
	return NewForm(svc, registry, opts), nil
}

func (f *Form) Registry() *tracker.Registry { return f.registry }

func (f *Form) ID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *Form) Department() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.department
}

// SetThumbnail stages the thumbnail sent with the next submit.
func (f *Form) SetThumbnail(file gateway.File) error {
	if err := gateway.ValidateImage(file); err != nil {
		notify.Error(f.notifier, err.Error())
		return err
	}
	f.mu.Lock()
	f.thumbnail = &file
	f.mu.Unlock()
	return nil
}

func (f *Form) ClearThumbnail() {
	f.mu.Lock()
	f.thumbnail = nil
	f.mu.Unlock()
}

// Thumbnail returns the name of the staged thumbnail, if any.
func (f *Form) Thumbnail() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.thumbnail == nil {
		return "", false
	}
	return f.thumbnail.Name, true
}

func validate(in Input) error {
	switch {
	case in.Title == "":
		return &gateway.ValidationError{Message: "Title is required"}
	case in.Description == "":
		return &gateway.ValidationError{Message: "Description is required"}
	case !ValidDepartment(in.Department):
		return &gateway.ValidationError{Message: "Invalid department"}
	}
	if _, err := time.Parse(eventDateLayout, in.EventDate); err != nil {
		return &gateway.ValidationError{Message: "Event date must be YYYY-MM-DD"}
	}
	if in.GoogleDriveURL != "" {
		u, err := url.Parse(in.GoogleDriveURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &gateway.ValidationError{Message: "Google Drive URL must be a valid link"}
		}
	}
	return nil
}

// Submit sends the item as a multipart request. googleDriveUrl is always
// present in the body, empty when unset.
func (f *Form) Submit(ctx context.Context, in Input) (*Item, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.GoogleDriveURL = strings.TrimSpace(in.GoogleDriveURL)
	if in.Department == "" {
		in.Department = f.Department()
	}
	if err := validate(in); err != nil {
		notify.Error(f.notifier, err.Error())
		return nil, err
	}

	f.submitMu.Lock()
	defer f.submitMu.Unlock()

	f.mu.Lock()
	id := f.id
	thumb := f.thumbnail
	f.mu.Unlock()

	form := portalapi.NewForm().
		Field("title", in.Title).
		Field("description", in.Description).
		Field("department", in.Department).
		Field("eventDate", in.EventDate).
		Field("googleDriveUrl", in.GoogleDriveURL)
	if thumb != nil {
		form.File("thumbnail", thumb.Name, thumb.ContentType, thumb.Open)
	}

	act := createAction
	if id != 0 {
		act = updateAction
	}
	notify.Loading(f.notifier, act.loading)

	var (
		saved *Item
		err   error
	)
	if id == 0 {
		saved, err = f.service.Create(ctx, form)
	} else {
		saved, err = f.service.Update(ctx, id, form)
	}
	if err != nil {
		f.logger.Warn("gallery submit failed", zap.String("session", f.registry.SessionID()), zap.Error(err))
		notify.Error(f.notifier, act.failure(err))
		return nil, err
	}

	f.mu.Lock()
	f.department = in.Department
	f.thumbnail = nil
	if saved != nil && saved.ID != 0 {
		f.id = saved.ID
	}
	f.mu.Unlock()

	f.registry.Disarm(ctx)
	notify.Success(f.notifier, act.success)
	return saved, nil
}

func (f *Form) Cancel(ctx context.Context) int {
	f.ClearThumbnail()
	return f.registry.Cleanup(ctx)
}

func (f *Form) Close(ctx context.Context) int {
	f.ClearThumbnail()
	return f.registry.Close(ctx)
}
