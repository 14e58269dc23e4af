package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mx-space/portal/internal/pkg/portalapi"
)

// Departments that keep a gallery, keyed by slug.
var Departments = map[string]string{
	"public-relations": "Public Relations",
	"facility":         "Facility",
	"hall-functions":   "Hall Functions",
	"spirit":           "Spirit",
}

func ValidDepartment(slug string) bool {
	_, ok := Departments[slug]
	return ok
}

type Item struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Author         string `json:"author,omitempty"`
	UserID         int64  `json:"userId,omitempty"`
	Department     string `json:"department"`
	ThumbnailURL   string `json:"thumbnailUrl"`
	GoogleDriveURL string `json:"googleDriveUrl,omitempty"`
	EventDate      string `json:"eventDate"`
	Year           int    `json:"year,omitempty"`
	Month          int    `json:"month,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

type Service struct{ api *portalapi.Client }

func NewService(api *portalapi.Client) *Service { return &Service{api: api} }

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	var item Item
	if err := s.api.Get(ctx, fmt.Sprintf("/gallery/%d", id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) Create(ctx context.Context, form *portalapi.Form) (*Item, error) {
	var raw json.RawMessage
	if err := s.api.PostForm(ctx, "/gallery", form, &raw); err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

func (s *Service) Update(ctx context.Context, id int64, form *portalapi.Form) (*Item, error) {
	var raw json.RawMessage
	if err := s.api.PutForm(ctx, fmt.Sprintf("/gallery/%d", id), form, &raw); err != nil {
		return nil, err
	}
	return decodeItem(raw)
}

// decodeItem accepts both {"galleryItem": {...}} and a bare item.
func decodeItem(raw json.RawMessage) (*Item, error) {
	if len(raw) == 0 {
		return &Item{}, nil
	}
	var wrapped struct {
		GalleryItem *Item `json:"galleryItem"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.GalleryItem != nil {
		return wrapped.GalleryItem, nil
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode gallery item: %w", err)
	}
	return &item, nil
}

const (
	msgGeneric     = "Something went wrong. Please try again"
	msgBadInput    = "Please check your input data"
	msgNotFound    = "Gallery item not found"
	msgFetchFailed = "Failed to fetch gallery item"
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
		loading:      "Creating gallery item...",
		success:      "Gallery item created successfully!",
		unauthorized: "You must be logged in to create gallery items",
		forbidden:    "You do not have permission to create gallery items",
		fallback:     "Failed to create gallery item",
	}
	updateAction = action{
		loading:      "Updating gallery item...",
		success:      "Gallery item updated successfully!",
		unauthorized: "You must be logged in to update gallery items",
		forbidden:    "You do not have permission to update this gallery item",
		fallback:     "Failed to update gallery item",
		notFound:     true,
	}
)

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
