// Package uploadtest runs an in-process fake of the portal API for tests.
package uploadtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Portal records every call made against the fake upload and entity endpoints.
type Portal struct {
	Server *httptest.Server

	mu            sync.Mutex
	uploads       []string
	deletedImages []string
	deletedFiles  []string
	notices       []map[string]interface{}
	gallery       []map[string]string
	tokens        []string
	calls         int

	// UploadStatus forces a non-2xx answer on uploads when non-zero.
	UploadStatus int
	// UploadMessage is sent with a forced upload failure.
	UploadMessage string
	// BarePaths answers uploads with a path instead of an absolute URL.
	BarePaths bool
	// DeleteStatus forces a non-2xx answer for the listed URLs.
	DeleteStatus map[string]int
	// NoticeStatus forces a non-2xx answer on notice create/update.
	NoticeStatus int
	// Notice is returned by GET /notices/:id.
	Notice map[string]interface{}
	// GalleryStatus forces a non-2xx answer on gallery create/update.
	GalleryStatus int
	// GalleryItem is returned by GET /gallery/:id.
	GalleryItem map[string]interface{}
}

func NewPortal() *Portal {
	p := &Portal{DeleteStatus: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload-images", p.handleUpload("images", "images"))
	mux.HandleFunc("/api/upload-files", p.handleUpload("files", "files"))
	mux.HandleFunc("/api/delete-image", p.handleDelete("imageUrl", &p.deletedImages))
	mux.HandleFunc("/api/delete-file", p.handleDelete("fileUrl", &p.deletedFiles))
	mux.HandleFunc("/notices", p.handleNotices)
	mux.HandleFunc("/notices/", p.handleNotices)
	mux.HandleFunc("/gallery", p.handleGallery)
	mux.HandleFunc("/gallery/", p.handleGallery)
	p.Server = httptest.NewServer(mux)
	return p
}

func (p *Portal) Close() { p.Server.Close() }

func (p *Portal) URL() string { return p.Server.URL }

// Calls is the total number of requests served.
func (p *Portal) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Portal) Uploads() []string { return p.snapshot(&p.uploads) }

func (p *Portal) DeletedImages() []string { return p.snapshot(&p.deletedImages) }

func (p *Portal) DeletedFiles() []string { return p.snapshot(&p.deletedFiles) }

func (p *Portal) Tokens() []string { return p.snapshot(&p.tokens) }

func (p *Portal) Notices() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]interface{}(nil), p.notices...)
}

func (p *Portal) Gallery() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.gallery...)
}

func (p *Portal) snapshot(list *[]string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), (*list)...)
}

func (p *Portal) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if auth := r.Header.Get("Authorization"); auth != "" {
		p.tokens = append(p.tokens, strings.TrimPrefix(auth, "Bearer "))
	}
}

func (p *Portal) handleUpload(field, dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.UploadStatus != 0 {
			writeJSON(w, p.UploadStatus, map[string]string{"message": p.UploadMessage})
			return
		}
		file, header, err := r.FormFile(field)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"files": []interface{}{}, "message": "no file"})
			return
		}
		size, _ := io.Copy(io.Discard, file)
		_ = file.Close()

		url := fmt.Sprintf("%s/uploads/%s/%s", p.Server.URL, dir, header.Filename)
		p.mu.Lock()
		p.uploads = append(p.uploads, url)
		if p.BarePaths {
			url = fmt.Sprintf("/uploads/%s/%s", dir, header.Filename)
		}
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"files":   []map[string]interface{}{{"url": url, "name": header.Filename, "size": size}},
			"message": "Files uploaded successfully",
		})
	}
}

func (p *Portal) handleDelete(key string, into *[]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		url := body[key]
		p.mu.Lock()
		*into = append(*into, url)
		status := p.DeleteStatus[url]
		p.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]interface{}{})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "deleted"})
	}
}

func (p *Portal) handleNotices(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	switch r.Method {
	case http.MethodGet:
		if r.URL.Path == "/notices" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"notices": p.Notices()})
			return
		}
		if p.Notice == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"notice": p.Notice})
	case http.MethodPost, http.MethodPut:
		if p.NoticeStatus != 0 {
			writeJSON(w, p.NoticeStatus, map[string]string{})
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
			return
		}
		p.mu.Lock()
		p.notices = append(p.notices, body)
		p.mu.Unlock()
		if _, ok := body["id"]; !ok {
			body["id"] = len(p.Notices())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"notice": body})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *Portal) handleGallery(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if r.Method == http.MethodGet {
		if p.GalleryItem == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, p.GalleryItem)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.GalleryStatus != 0 {
		writeJSON(w, p.GalleryStatus, map[string]string{})
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	item := map[string]string{"_method": r.Method}
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			item[key] = values[0]
		}
	}
	if files := r.MultipartForm.File["thumbnail"]; len(files) > 0 {
		item["thumbnail"] = files[0].Filename
	}
	p.mu.Lock()
	p.gallery = append(p.gallery, item)
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"galleryItem": item})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
