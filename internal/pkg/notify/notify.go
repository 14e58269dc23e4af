package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Level is the toast variant shown to the user.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelLoading Level = "loading"
)

// Notification is a single user-facing toast.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Sink accepts fire-and-forget toasts.
type Sink interface {
	Notify(level Level, message string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(level Level, message string)

func (f SinkFunc) Notify(level Level, message string) { f(level, message) }

// Discard drops every notification.
func Discard() Sink { return SinkFunc(func(Level, string) {}) }

// Log mirrors notifications into a zap logger at debug level.
func Log(logger *zap.Logger) Sink {
	if logger == nil {
		return Discard()
	}
	return SinkFunc(func(level Level, message string) {
		logger.Debug("toast", zap.String("level", string(level)), zap.String("message", message))
	})
}

// Multi fans a notification out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(level Level, message string) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(level, message)
			}
		}
	})
}

// Recorder buffers notifications until they are drained into a response.
// A success or error toast dismisses every pending loading toast.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level != LevelLoading {
		kept := r.items[:0]
		for _, item := range r.items {
			if item.Level != LevelLoading {
				kept = append(kept, item)
			}
		}
		r.items = kept
	}
	r.items = append(r.items, Notification{Level: level, Message: message})
}

// Drain returns the buffered notifications and clears the buffer.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

func Success(s Sink, message string) {
	if s != nil {
		s.Notify(LevelSuccess, message)
	}
}

func Error(s Sink, message string) {
	if s != nil {
		s.Notify(LevelError, message)
	}
}

func Loading(s Sink, message string) {
	if s != nil {
		s.Notify(LevelLoading, message)
	}
}
