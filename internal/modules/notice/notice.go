package notice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mx-space/portal/internal/pkg/portalapi"
)

// Categories an announcement can be filed under.
const (
	CategoryImportant = "Important"
	CategoryNotice    = "Notice"
	CategoryEvent     = "Event"
	CategoryUpdate    = "Update"

	DefaultCategory = CategoryNotice
)

var categories = map[string]struct{}{
	CategoryImportant: {},
	CategoryNotice:    {},
	CategoryEvent:     {},
	CategoryUpdate:    {},
}

func ValidCategory(c string) bool {
	_, ok := categories[c]
	return ok
}

type Notice struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author,omitempty"`
	Type        string    `json:"type"`
	ViewsCount  int       `json:"viewsCount"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Payload is the body of a create or update request.
type Payload struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Type        string   `json:"type"`
	Attachments []string `json:"attachments"`
}

type ListParams struct {
	Limit    int
	Page     int
	SortBy   string // latest, oldest or popular
	Category string
	Search   string
}

func (p ListParams) query() string {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.SortBy != "" {
		v.Set("sortBy", p.SortBy)
	}
	if p.Category != "" {
		v.Set("category", p.Category)
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalCount  int  `json:"totalCount"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
	Limit       int  `json:"limit"`
}

type ListResult struct {
	Notices    []Notice   `json:"notices"`
	Pagination Pagination `json:"pagination"`
}

// Service talks to the notices endpoints of the portal API.
type Service struct{ api *portalapi.Client }

func NewService(api *portalapi.Client) *Service { return &Service{api: api} }

func (s *Service) List(ctx context.Context, p ListParams) (*ListResult, error) {
	var out ListResult
	if err := s.api.Get(ctx, "/notices"+p.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Notice, error) {
	var out struct {
		Notice *Notice `json:"notice"`
	}
	if err := s.api.Get(ctx, fmt.Sprintf("/notices/%d", id), &out); err != nil {
		return nil, err
	}
	if out.Notice == nil {
		return nil, &portalapi.APIError{Status: http.StatusNotFound, Message: msgNotFound}
	}
	return out.Notice, nil
}

func (s *Service) Create(ctx context.Context, p Payload) (*Notice, error) {
	var out struct {
		Message string  `json:"message"`
		Notice  *Notice `json:"notice"`
	}
	if err := s.api.Post(ctx, "/notices", p, &out); err != nil {
		return nil, err
	}
	return out.Notice, nil
}

func (s *Service) Update(ctx context.Context, id int64, p Payload) (*Notice, error) {
	var out struct {
		Message string  `json:"message"`
		Notice  *Notice `json:"notice"`
	}
	if err := s.api.Put(ctx, fmt.Sprintf("/notices/%d", id), p, &out); err != nil {
		return nil, err
	}
	return out.Notice, nil
}

const (
	msgGeneric      = "Something went wrong. Please try again"
	msgBadInput     = "Please check your input data"
	msgNotFound     = "Announcement not found"
	msgFetchFailed  = "Failed to fetch announcement"
	msgTitleMissing = "Title is required"
	msgBadCategory  = "Invalid category"
)

type action struct {
	loading      string
	success      string
	unauthorized string
	forbidden    string
	fallback     string
	notFound     bool
}

var (
	createAction = action{
		loading:      "Creating announcement...",
		success:      "Announcement created successfully!",
		unauthorized: "You must be logged in to create announcements",
		forbidden:    "You do not have permission to create announcements",
		fallback:     "Failed to create announcement",
	}
	updateAction = action{
		loading:      "Updating announcement...",
		success:      "Announcement updated successfully!",
		unauthorized: "You must be logged in to update announcements",
		forbidden:    "You do not have permission to update this announcement",
		fallback:     "Failed to update announcement",
		notFound:     true,
	}
)

// failure turns a portal API error into the message shown to the user.
func (a action) failure(err error) string {
	var apiErr *portalapi.APIError
	if !errors.As(err, &apiErr) {
		return msgGeneric
	}
	switch apiErr.Status {
	case http.StatusBadRequest:
		return msgBadInput
	case http.StatusUnauthorized:
		return a.unauthorized
	case http.StatusForbidden:
		return a.forbidden
	case http.StatusNotFound:
		if a.notFound {
			return msgNotFound
		}
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return a.fallback
}

func fetchFailure(err error) string {
	if portalapi.StatusOf(err) == http.StatusNotFound {
		return msgNotFound
	}
	return msgFetchFailed
}
