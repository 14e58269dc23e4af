package formsession

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mx-space/portal/internal/middleware"
	"github.com/mx-space/portal/internal/modules/gallery"
	"github.com/mx-space/portal/internal/modules/notice"
	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/uploadtest"
	"github.com/mx-space/portal/internal/pkg/jwt"
	"github.com/mx-space/portal/internal/pkg/notify"
	"github.com/mx-space/portal/internal/pkg/portalapi"
)

type server struct {
	t      *testing.T
	router *gin.Engine
	portal *uploadtest.Portal
	store  *Store
	leases *MemoryLeases
	token  string
}

type envelope struct {
	Session       sessionResponse       `json:"session"`
	Notifications []notify.Notification `json:"notifications"`
	Deleted       int                   `json:"deleted"`
	URL           string                `json:"url"`
	Added         []string              `json:"added"`
	Message       string                `json:"message"`
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	portal := uploadtest.NewPortal()
	t.Cleanup(portal.Close)

	api := portalapi.New(portal.URL())
	leases := NewMemoryLeases()
	store := NewStore(leases, time.Minute, nil)
	h := NewHandler(store, Deps{
		Gateway: gateway.New(api),
		Notices: notice.NewService(api),
		Gallery: gallery.NewService(api),
	})
	router := gin.New()
	pass := func(c *gin.Context) { c.Next() }
	h.RegisterRoutes(router.Group("/api"), middleware.Auth(), middleware.RequireRole("adminStudent"), pass, pass)

	token, err := jwt.Sign("u1", "adminStudent", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &server{t: t, router: router, portal: portal, store: store, leases: leases, token: token}
}

func (s *server) do(method, path, contentType string, body *bytes.Buffer, token string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (s *server) json(method, path string, payload interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	raw, _ := json.Marshal(payload)
	return s.do(method, path, "application/json", bytes.NewBuffer(raw), s.token)
}

func (s *server) multipart(method, path, field string, files map[string][]byte) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, payload := range files {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			s.t.Fatalf("multipart: %v", err)
		}
		_, _ = part.Write(payload)
	}
	_ = mw.Close()
	return s.do(method, path, mw.FormDataContentType(), &buf, s.token)
}

func (s *server) open(kind Kind) string {
	s.t.Helper()
	w, env := s.json(http.MethodPost, "/api/form-sessions", map[string]interface{}{"kind": kind, "department": "spirit"})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("open: status=%d body=%s", w.Code, w.Body.String())
	}
	return env.Session.ID
}

func pngBytes(size int) []byte {
	head := []byte("\x89PNG\r\n\x1a\n")
	return append(head, make([]byte, size)...)
}

func TestOpenInsertCancelDeletesOnce(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)

	if w, env := s.json(http.MethodPost, "/api/form-sessions/"+id+"/ready", nil); w.Code != http.StatusOK || env.Session.EditorState != "ready" {
		t.Fatalf("ready: status=%d state=%q", w.Code, env.Session.EditorState)
	}

	w, env := s.multipart(http.MethodPost, "/api/form-sessions/"+id+"/images", "image", map[string][]byte{"img1.png": pngBytes(200 * 1024)})
	if w.Code != http.StatusCreated {
		t.Fatalf("image: status=%d body=%s", w.Code, w.Body.String())
	}
	if env.URL != "/uploads/images/img1.png" {
		t.Fatalf("image url: %q", env.URL)
	}
	if len(env.Notifications) != 1 || env.Notifications[0].Message != "Image uploaded successfully!" {
		t.Fatalf("notifications: %+v", env.Notifications)
	}

	w, env = s.json(http.MethodPost, "/api/form-sessions/"+id+"/cancel", nil)
	if w.Code != http.StatusOK || env.Deleted != 1 {
		t.Fatalf("cancel: status=%d deleted=%d", w.Code, env.Deleted)
	}
	if got := s.portal.DeletedImages(); len(got) != 1 || got[0] != "/uploads/images/img1.png" {
		t.Fatalf("deleted images: %v", got)
	}
	if s.store.Has(id) {
		t.Fatalf("session still open after cancel")
	}
	for _, tok := range s.portal.Tokens() {
		if tok != s.token {
			t.Fatalf("portal saw token %q", tok)
		}
	}
}

func TestSubmitClosesSessionWithoutDeletes(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	s.json(http.MethodPost, "/api/form-sessions/"+id+"/ready", nil)

	w, env := s.multipart(http.MethodPost, "/api/form-sessions/"+id+"/attachments", "files", map[string][]byte{"report.pdf": []byte("%PDF-1.4 report")})
	if w.Code != http.StatusOK || len(env.Added) != 1 {
		t.Fatalf("attachments: status=%d body=%s", w.Code, w.Body.String())
	}

	if w, _ := s.json(http.MethodPut, "/api/form-sessions/"+id+"/content", map[string]string{"markdown": "# Exams\n\nBring pencils."}); w.Code != http.StatusOK {
		t.Fatalf("content: status=%d body=%s", w.Code, w.Body.String())
	}

	w, env = s.json(http.MethodPost, "/api/form-sessions/"+id+"/submit", notice.SubmitInput{Title: "Exams", Type: notice.CategoryImportant})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}
	if len(env.Notifications) != 1 || env.Notifications[0].Message != "Announcement created successfully!" {
		t.Fatalf("notifications: %+v", env.Notifications)
	}
	sent := s.portal.Notices()
	if len(sent) != 1 || !strings.Contains(sent[0]["content"].(string), "<h1>Exams</h1>") {
		t.Fatalf("submitted: %v", sent)
	}
	if s.store.Has(id) {
		t.Fatalf("session still open after submit")
	}
	if len(s.portal.DeletedFiles()) != 0 {
		t.Fatalf("deleted files: %v", s.portal.DeletedFiles())
	}
}

func TestOversizeImageRejectedWithoutUpload(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	w, env := s.multipart(http.MethodPost, "/api/form-sessions/"+id+"/images", "image", map[string][]byte{"big.png": pngBytes(int(gateway.MaxImageSize))})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: want=%d got=%d", http.StatusUnprocessableEntity, w.Code)
	}
	if len(env.Notifications) != 1 || env.Notifications[0].Level != notify.LevelError {
		t.Fatalf("notifications: %+v", env.Notifications)
	}
	if len(s.portal.Uploads()) != 0 {
		t.Fatalf("oversize image uploaded")
	}
}

func TestOtherUserCannotSeeSession(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	other, _ := jwt.Sign("u2", "adminStudent", time.Hour)
	w, _ := s.do(http.MethodGet, "/api/form-sessions/"+id, "", nil, other)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
}

func TestAuthAndRoleRequired(t *testing.T) {
	s := newServer(t)
	if w, _ := s.do(http.MethodPost, "/api/form-sessions", "application/json", bytes.NewBufferString(`{"kind":"notice"}`), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want=401 got=%d", w.Code)
	}
	student, _ := jwt.Sign("u3", "student", time.Hour)
	if w, _ := s.do(http.MethodPost, "/api/form-sessions", "application/json", bytes.NewBufferString(`{"kind":"notice"}`), student); w.Code != http.StatusForbidden {
		t.Fatalf("wrong role: want=403 got=%d", w.Code)
	}
}

func TestGalleryThumbnailAndSubmit(t *testing.T) {
	s := newServer(t)
	id := s.open(KindGallery)

	if w, env := s.multipart(http.MethodPut, "/api/form-sessions/"+id+"/thumbnail", "thumbnail", map[string][]byte{"cover.png": pngBytes(512)}); w.Code != http.StatusOK || env.Session.Thumbnail != "cover.png" {
		t.Fatalf("thumbnail: status=%d body=%s", w.Code, w.Body.String())
	}
	w, _ := s.json(http.MethodPost, "/api/form-sessions/"+id+"/submit", gallery.Input{
		Title:       "Pep rally",
		Description: "Gym, friday",
		EventDate:   "2024-09-13",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}
	got := s.portal.Gallery()
	if len(got) != 1 || got[0]["thumbnail"] != "cover.png" || got[0]["department"] != "spirit" {
		t.Fatalf("gallery submit: %v", got)
	}
}

func TestUnloadBeaconWithQueryToken(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	s.multipart(http.MethodPost, "/api/form-sessions/"+id+"/attachments", "files", map[string][]byte{"a.pdf": []byte("%PDF-1.4")})

	req := httptest.NewRequest(http.MethodPost, "/api/form-sessions/"+id+"/unload?token="+s.token, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unload: status=%d body=%s", w.Code, w.Body.String())
	}
	if len(s.portal.DeletedFiles()) != 1 {
		t.Fatalf("deleted files: %v", s.portal.DeletedFiles())
	}
}

func TestRemoveAttachmentOutOfRange(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	if w, _ := s.json(http.MethodDelete, "/api/form-sessions/"+id+"/attachments/4", nil); w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
}

func TestEditingKeepsSessionAlive(t *testing.T) {
	s := newServer(t)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	s.leases.now = clk.Now

	id := s.open(KindNotice)
	s.json(http.MethodPost, "/api/form-sessions/"+id+"/ready", nil)
	if w, _ := s.multipart(http.MethodPost, "/api/form-sessions/"+id+"/images", "image", map[string][]byte{"img1.png": pngBytes(1024)}); w.Code != http.StatusCreated {
		t.Fatalf("image: status=%d body=%s", w.Code, w.Body.String())
	}

	for i := 0; i < 4; i++ {
		clk.now = clk.now.Add(20 * time.Second)
		html := `<p>draft</p><img src="` + s.portal.URL() + `/uploads/images/img1.png">`
		if w, _ := s.json(http.MethodPut, "/api/form-sessions/"+id+"/content", map[string]string{"html": html}); w.Code != http.StatusOK {
			t.Fatalf("content %d: status=%d", i, w.Code)
		}
		if n := s.store.SweepIdle(context.Background()); n != 0 {
			t.Fatalf("sweep after edit %d closed %d sessions", i, n)
		}
	}
	if got := s.portal.DeletedImages(); len(got) != 0 {
		t.Fatalf("deleted images: %v", got)
	}

	w, _ := s.json(http.MethodPost, "/api/form-sessions/"+id+"/submit", notice.SubmitInput{Title: "Draft", Type: notice.CategoryNotice})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestEndedSessionIsGone(t *testing.T) {
	s := newServer(t)
	id := s.open(KindNotice)
	s.json(http.MethodPost, "/api/form-sessions/"+id+"/ready", nil)

	in := notice.SubmitInput{Title: "Exams", Type: notice.CategoryImportant}
	if w, _ := s.json(http.MethodPost, "/api/form-sessions/"+id+"/submit", in); w.Code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}
	if w, _ := s.json(http.MethodPost, "/api/form-sessions/"+id+"/submit", in); w.Code != http.StatusGone {
		t.Fatalf("second submit: want=410 got=%d", w.Code)
	}
	if w, _ := s.json(http.MethodPost, "/api/form-sessions/"+id+"/heartbeat", nil); w.Code != http.StatusGone {
		t.Fatalf("heartbeat after submit: want=410 got=%d", w.Code)
	}
	if w, _ := s.json(http.MethodGet, "/api/form-sessions/unknown", nil); w.Code != http.StatusGone {
		t.Fatalf("unknown session: want=410 got=%d", w.Code)
	}
	if len(s.portal.Notices()) != 1 {
		t.Fatalf("notices sent: %d", len(s.portal.Notices()))
	}
}
