package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/mx-space/portal/internal/pkg/portalapi"
	"go.uber.org/zap"
)

const (
	imageUploadPath    = "/api/upload-images"
	documentUploadPath = "/api/upload-files"
	imageDeletePath    = "/api/delete-image"
	fileDeletePath     = "/api/delete-file"
)

// UploadResult is the outcome of one upload. Err is nil iff Success.
type UploadResult struct {
	Success  bool
	FileURL  string
	FileName string
	FileSize int64
	Message  string
	Err      error
}

// DeleteResult is the outcome of one delete. Err is nil iff Success.
type DeleteResult struct {
	Success bool
	Message string
	Err     error
}

type uploadedFile struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type uploadResponse struct {
	Files   []uploadedFile `json:"files"`
	Message string         `json:"message"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client validates binaries locally and moves them to and from remote storage.
// No method returns an error out of band; failures live in the result.
type Client struct {
	api        *portalapi.Client
	publicBase string
	logger     *zap.Logger
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPublicBase sets the host prefixed to upload answers that carry only a
// path. It defaults to the portal API base.
func WithPublicBase(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.publicBase = base
		}
	}
}

func New(api *portalapi.Client, opts ...Option) *Client {
	c := &Client{api: api, publicBase: api.BaseURL(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PublicBase() string { return c.publicBase }

func (c *Client) UploadImage(ctx context.Context, f File) UploadResult {
	if err := ValidateImage(f); err != nil {
		return failedUpload(err)
	}
	return c.upload(ctx, imageUploadPath, "images", f)
}

func (c *Client) UploadDocument(ctx context.Context, f File) UploadResult {
	if err := ValidateDocument(f); err != nil {
		return failedUpload(err)
	}
	return c.upload(ctx, documentUploadPath, "files", f)
}

func (c *Client) DeleteImage(ctx context.Context, url string) DeleteResult {
	return c.delete(ctx, imageDeletePath, map[string]string{"imageUrl": url})
}

func (c *Client) DeleteFile(ctx context.Context, url string) DeleteResult {
	return c.delete(ctx, fileDeletePath, map[string]string{"fileUrl": url})
}

func (c *Client) upload(ctx context.Context, path, field string, f File) UploadResult {
	if f.Open == nil {
		return failedUpload(&ValidationError{Message: "No files uploaded"})
	}
	form := portalapi.NewForm().File(field, f.Name, f.ContentType, f.Open)

	var resp uploadResponse
	if err := c.api.PostForm(ctx, path, form, &resp); err != nil {
		terr := transportError(err, "Upload failed")
		c.logger.Warn("upload failed", zap.String("path", path), zap.String("file", f.Name), zap.Error(err))
		return failedUpload(terr)
	}
	if len(resp.Files) == 0 {
		return failedUpload(&TransportError{Status: 200, Message: "No files uploaded"})
	}
	first := resp.Files[0]
	first.URL = Absolute(first.URL, c.publicBase)
	c.logger.Debug("uploaded", zap.String("path", path), zap.String("url", first.URL), zap.Int64("size", first.Size))
	return UploadResult{
		Success:  true,
		FileURL:  first.URL,
		FileName: first.Name,
		FileSize: first.Size,
		Message:  resp.Message,
	}
}

func (c *Client) delete(ctx context.Context, path string, body map[string]string) DeleteResult {
	var resp deleteResponse
	if err := c.api.Delete(ctx, path, body, &resp); err != nil {
		terr := transportError(err, "Delete failed")
		return DeleteResult{Message: terr.Message, Err: terr}
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Delete failed"
		}
		return DeleteResult{Message: msg, Err: &TransportError{Status: 200, Message: msg}}
	}
	return DeleteResult{Success: true, Message: resp.Message}
}

func failedUpload(err error) UploadResult {
	return UploadResult{Message: err.Error(), Err: err}
}

// transportError normalizes a portalapi failure; prefix is used when the
// server gave no message.
func transportError(err error, prefix string) *TransportError {
	var apiErr *portalapi.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("%s: %d", prefix, apiErr.Status)
		}
		return &TransportError{Status: apiErr.Status, Message: msg, Err: err}
	}
	return &TransportError{Message: err.Error(), Err: err}
}
