package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusFulfill JobStatus = "fulfill"
	StatusReject  JobStatus = "reject"
)

// SweepFunc runs one pass of a sweep and reports how many items it cleared.
type SweepFunc func(ctx context.Context) (int, error)

// Job is a sweep repeated every Interval. RunAtStart schedules the first
// pass immediately instead of one interval after Start.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	RunAtStart  bool
	Fn          SweepFunc
}

// JobState holds runtime state for a registered job.
type JobState struct {
	Job
	Status     JobStatus
	Message    string
	LastRunAt  *time.Time
	NextRunAt  time.Time
	LastSwept  int
	TotalSwept int
	Runs       int
	mu         sync.Mutex
}

// ListItem is the serializable representation of a job for the API.
type ListItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      JobStatus  `json:"status"`
	NextDate    *time.Time `json:"nextDate"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastSwept   int        `json:"lastSwept"`
	TotalSwept  int        `json:"totalSwept"`
	Runs        int        `json:"runs"`
}

// TaskResult is returned when polling task execution status.
type TaskResult struct {
	Status  JobStatus `json:"status"` // "fulfill" | "reject" | "running" | "idle"
	Message string    `json:"message,omitempty"`
	Swept   int       `json:"swept"`
}

// Scheduler runs named sweeps on fixed intervals. A job never overlaps
// itself: a tick or manual run that finds it running is dropped.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*JobState
	logger *zap.Logger
}

// New creates an empty Scheduler. A nil logger discards job logs.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*JobState),
		logger: logger,
	}
}

// Register adds a job to the scheduler. Must be called before Start.
// Jobs with a non-positive interval or no func are ignored.
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 || job.Fn == nil {
		return
	}
	next := time.Now()
	if !job.RunAtStart {
		next = next.Add(job.Interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &JobState{
		Job:       job,
		Status:    StatusIdle,
		NextRunAt: next,
	}
}

// Start launches all registered jobs in background goroutines. They stop
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		go s.runLoop(ctx, js)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, js *JobState) {
	for {
		js.mu.Lock()
		wait := time.Until(js.NextRunAt)
		js.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.execute(ctx, js)
			js.mu.Lock()
			js.NextRunAt = time.Now().Add(js.Interval)
			js.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *JobState) {
	js.mu.Lock()
	if js.Status == StatusRunning {
		js.mu.Unlock()
		return
	}
	js.Status = StatusRunning
	js.mu.Unlock()

	now := time.Now()
	n, err := js.Fn(ctx)
	took := time.Since(now)
	switch {
	case err != nil:
		s.logger.Warn("sweep failed", zap.String("job", js.Name), zap.Int("swept", n), zap.Duration("took", took), zap.Error(err))
	case n > 0:
		s.logger.Info(fmt.Sprintf("%s cleared %d", js.Name, n), zap.Duration("took", took))
	default:
		s.logger.Debug("sweep done", zap.String("job", js.Name), zap.Duration("took", took))
	}

	js.mu.Lock()
	js.LastRunAt = &now
	js.LastSwept = n
	js.TotalSwept += n
	js.Runs++
	if err != nil {
		js.Status = StatusReject
		js.Message = err.Error()
	} else {
		js.Status = StatusFulfill
		js.Message = ""
	}
	js.mu.Unlock()
}

// Run triggers a job by name without waiting for it. The job runs on a
// context detached from the caller's request.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	js, err := s.lookup(name)
	if err != nil {
		return err
	}
	go s.execute(context.WithoutCancel(ctx), js)
	return nil
}

// GetTask returns the current execution state of a job.
func (s *Scheduler) GetTask(name string) (*TaskResult, error) {
	js, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	return &TaskResult{Status: js.Status, Message: js.Message, Swept: js.LastSwept}, nil
}

// List returns a summary of all registered jobs ordered by name.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		next := js.NextRunAt
		items = append(items, ListItem{
			Name:        js.Name,
			Description: js.Description,
			Status:      js.Status,
			NextDate:    &next,
			LastRunAt:   js.LastRunAt,
			LastSwept:   js.LastSwept,
			TotalSwept:  js.TotalSwept,
			Runs:        js.Runs,
		})
		js.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func (s *Scheduler) lookup(name string) (*JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	js, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %q not found", name)
	}
	return js, nil
}
