package attachment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
)

const (
	addConcurrency = 4

	msgUploadingFile   = "Uploading file..."
	msgFileUploaded    = "File uploaded successfully!"
	msgUploadFailed    = "Upload failed"
	msgRemovedFromList = "File removed from list!"
	msgRemoved         = "File removed successfully!"
	msgRemoveFailed    = "Failed to remove file"
)

var ErrIndexOutOfRange = errors.New("attachment index out of range")

// Gateway is the slice of the upload gateway the list needs.
type Gateway interface {
	UploadDocument(ctx context.Context, f gateway.File) gateway.UploadResult
	DeleteFile(ctx context.Context, url string) gateway.DeleteResult
}

type Options struct {
	// Initial is the persisted attachment list in edit mode. Its entries
	// are only ever unlinked, never deleted remotely.
	Initial  []string
	Notifier notify.Sink
	Logger   *zap.Logger
}

// List is the ordered, duplicate-free set of document attachments of a form.
type List struct {
	gw       Gateway
	registry *tracker.Registry
	original map[string]struct{}
	notifier notify.Sink
	logger   *zap.Logger

	mu    sync.Mutex
	items []string
}

func New(gw Gateway, registry *tracker.Registry, opts Options) *List {
	l := &List{
		gw:       gw,
		registry: registry,
		original: make(map[string]struct{}, len(opts.Initial)),
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
	if l.notifier == nil {
		l.notifier = notify.Discard()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	for _, u := range opts.Initial {
		if _, dup := l.original[u]; dup || u == "" {
			continue
		}
		l.original[u] = struct{}{}
		l.items = append(l.items, u)
	}
	return l
}

// AddFile validates and uploads f, then appends its URL. A URL already in
// the list is not appended twice.
func (l *List) AddFile(ctx context.Context, f gateway.File) (string, error) {
	if err := gateway.ValidateDocument(f); err != nil {
		notify.Error(l.notifier, err.Error())
		return "", err
	}

	notify.Loading(l.notifier, msgUploadingFile)
	res := l.gw.UploadDocument(ctx, f)
	if !res.Success || res.FileURL == "" {
		msg := res.Message
		if msg == "" {
			msg = msgUploadFailed
		}
		notify.Error(l.notifier, msg)
		if res.Err == nil {
			res.Err = errors.New(msg)
		}
		return "", res.Err
	}

	l.mu.Lock()
	dup := false
	for _, existing := range l.items {
		if existing == res.FileURL {
			dup = true
			break
		}
	}
	if !dup {
		l.items = append(l.items, res.FileURL)
	}
	l.mu.Unlock()

	if !dup {
		if err := l.registry.TrackDocument(ctx, res.FileURL); err != nil {
			l.drop(-1, res.FileURL)
			notify.Error(l.notifier, msgUploadFailed)
			return "", err
		}
	}
	notify.Success(l.notifier, msgFileUploaded)
	return res.FileURL, nil
}

// AddFiles runs one independent AddFile per file. Files that fail do not
// affect the others; their errors are joined.
func (l *List) AddFiles(ctx context.Context, files []gateway.File) ([]string, error) {
	urls := make([]string, len(files))
	errs := make([]error, len(files))

	g := new(errgroup.Group)
	g.SetLimit(addConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			u, err := l.AddFile(ctx, f)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", f.Name, err)
				return nil
			}
			urls[i] = u
			return nil
		})
	}
	_ = g.Wait()

	added := make([]string, 0, len(files))
	for _, u := range urls {
		if u != "" {
			added = append(added, u)
		}
	}
	return added, errors.Join(errs...)
}

// RemoveAt unlinks the attachment at index. Pre-existing attachments are
// dropped locally; fresh ones are deleted remotely first and stay listed
// when that fails.
func (l *List) RemoveAt(ctx context.Context, index int) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.items) {
		l.mu.Unlock()
		return ErrIndexOutOfRange
	}
	target := l.items[index]
	l.mu.Unlock()

	if l.IsOriginal(target) {
		l.drop(index, target)
		notify.Success(l.notifier, msgRemovedFromList)
		return nil
	}

	res := l.gw.DeleteFile(ctx, target)
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = msgRemoveFailed
		}
		notify.Error(l.notifier, msg)
		l.logger.Warn("attachment delete failed", zap.String("url", target), zap.String("message", msg))
		if res.Err == nil {
			res.Err = errors.New(msg)
		}
		return res.Err
	}
	l.drop(index, target)
	l.registry.ForgetDocument(ctx, target)
	notify.Success(l.notifier, msgRemoved)
	return nil
}

// drop removes target, preferring the slot it was read from.
func (l *List) drop(index int, target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) || l.items[index] != target {
		index = -1
		for i, u := range l.items {
			if u == target {
				index = i
				break
			}
		}
		if index < 0 {
			return
		}
	}
	l.items = append(l.items[:index:index], l.items[index+1:]...)
}

func (l *List) Attachments() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.items...)
}

func (l *List) IsOriginal(u string) bool {
	_, ok := l.original[u]
	return ok
}

// DisplayName is the last path segment of u, URL-decoded when possible.
func DisplayName(u string) string {
	name := u
	if i := strings.LastIndex(u, "/"); i >= 0 {
		name = u[i+1:]
	}
	if name == "" {
		return "Unknown file"
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}
