package gateway

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// File is a binary waiting to be uploaded. Open may be called more than once.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromFileHeader wraps a file received by a gin/multipart handler.
func FromFileHeader(fh *multipart.FileHeader) File {
	return File{
		Name:        safeName(fh.Filename),
		ContentType: detectContentType(fh.Filename, nil, fh.Header.Get("Content-Type")),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// FromBytes wraps an in-memory payload. An empty contentType is sniffed.
func FromBytes(name, contentType string, payload []byte) File {
	return File{
		Name:        safeName(name),
		ContentType: detectContentType(name, payload, contentType),
		Size:        int64(len(payload)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		},
	}
}

// detectContentType picks the MIME type from the declared header, then the
// extension, then the payload bytes.
func detectContentType(filename string, payload []byte, declared string) string {
	if contentType := strings.TrimSpace(declared); contentType != "" {
		mediaType := strings.ToLower(contentType)
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = strings.ToLower(parsed)
		}
		// generic binary says nothing about the file
		if mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	if ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename))); ext != "" {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			if mediaType, _, err := mime.ParseMediaType(guessed); err == nil {
				return mediaType
			}
			return guessed
		}
	}
	if len(payload) > 0 {
		mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(payload))
		return mediaType
	}
	return "application/octet-stream"
}

func safeName(raw string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}
