package formsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mx-space/portal/internal/middleware"
	"github.com/mx-space/portal/internal/modules/gallery"
	"github.com/mx-space/portal/internal/modules/notice"
	"github.com/mx-space/portal/internal/modules/upload/attachment"
	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/notify"
	"github.com/mx-space/portal/internal/pkg/portalapi"
	"github.com/mx-space/portal/internal/pkg/response"
)

// Deps are the collaborators every session is built from.
type Deps struct {
	Gateway           *gateway.Client
	Notices           *notice.Service
	Gallery           *gallery.Service
	Ledger            tracker.Ledger
	Placeholders      []string
	SettleDelay       time.Duration
	DeleteConcurrency int
	Logger            *zap.Logger
}

type Handler struct {
	store *Store
	deps  Deps
	log   *zap.Logger
}

func NewHandler(store *Store, deps Deps) *Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, deps: deps, log: log.Named("formsession")}
}

// RegisterRoutes mounts the session API. open guards session creation,
// upload throttles the upload routes and submit guards the submit route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth, open, upload, submit gin.HandlerFunc) {
	g := rg.Group("/form-sessions", auth)

	g.POST("", open, h.create)
	g.GET("/:id", h.show)
	g.POST("/:id/ready", h.ready)
	g.PUT("/:id/content", h.content)
	g.POST("/:id/images", upload, h.insertImage)
	g.POST("/:id/attachments", upload, h.addAttachments)
	g.DELETE("/:id/attachments/:index", h.removeAttachment)
	g.PUT("/:id/thumbnail", upload, h.thumbnail)
	g.POST("/:id/heartbeat", h.heartbeat)
	g.POST("/:id/submit", submit, h.submit)
	g.POST("/:id/cancel", h.cancel)
	g.POST("/:id/unload", h.unload)
}

type openDTO struct {
	Kind       Kind   `json:"kind"       binding:"required,oneof=notice gallery"`
	EntityID   int64  `json:"entityId"`
	Department string `json:"department"`
}

type contentDTO struct {
	HTML     *string `json:"html"`
	Markdown *string `json:"markdown"`
}

type sessionResponse struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	EntityID    int64     `json:"entityId,omitempty"`
	Armed       bool      `json:"armed"`
	Images      []string  `json:"images"`
	Attachments []string  `json:"attachments"`
	Content     *string   `json:"content,omitempty"`
	EditorState string    `json:"editorState,omitempty"`
	Title       string    `json:"title,omitempty"`
	Type        string    `json:"type,omitempty"`
	Department  string    `json:"department,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Created     time.Time `json:"created"`
}

func toResponse(s *Session) sessionResponse {
	r := sessionResponse{
		ID:          s.ID,
		Kind:        s.Kind,
		EntityID:    s.EntityID,
		Armed:       s.Registry.Armed(),
		Images:      []string{},
		Attachments: []string{},
		Created:     s.CreatedAt,
	}
	switch {
	case s.Notice != nil:
		content := s.Notice.Editor().Content()
		r.Content = &content
		r.EditorState = string(s.Notice.Editor().State())
		r.Images = append(r.Images, s.Notice.Editor().Images()...)
		r.Attachments = append(r.Attachments, s.Notice.Attachments().Attachments()...)
		r.Title = s.Notice.Title()
		r.Type = s.Notice.Category()
		r.EntityID = s.Notice.ID()
	case s.Gallery != nil:
		r.Department = s.Gallery.Department()
		r.Thumbnail, _ = s.Gallery.Thumbnail()
		r.EntityID = s.Gallery.ID()
	}
	return r
}

// reply writes body plus the toasts raised while handling the request.
func reply(c *gin.Context, status int, s *Session, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	if s != nil {
		body["notifications"] = s.Recorder.Drain()
	} else {
		body["notifications"] = []notify.Notification{}
	}
	c.JSON(status, body)
}

// fail maps an operation error to a status and writes the error envelope.
func fail(c *gin.Context, s *Session, err error) {
	status := statusOf(err)
	body := gin.H{"ok": 0, "code": status, "message": err.Error()}
	if s != nil {
		body["notifications"] = s.Recorder.Drain()
	}
	c.AbortWithStatusJSON(status, body)
}

func statusOf(err error) int {
	var (
		verr *gateway.ValidationError
		terr *gateway.TransportError
		aerr *portalapi.APIError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrClosed), errors.Is(err, ErrNotFound):
		return http.StatusGone
	case errors.Is(err, attachment.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.As(err, &aerr):
		return aerr.Status
	case errors.As(err, &terr):
		if terr.Status >= 400 {
			return terr.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// session resolves :id for the calling user and renews its lease, so any
// request keeps the session alive. A closed or unknown session answers 410;
// sessions of other users are reported as missing.
func (h *Handler) session(c *gin.Context) (*Session, bool) {
	s, ok := h.store.Get(c.Param("id"))
	if !ok {
		response.Error(c, http.StatusGone, "Form session has ended")
		return nil, false
	}
	if s.UserID != middleware.CurrentUserID(c) {
		response.NotFoundMsg(c, "Form session not found")
		return nil, false
	}
	if err := h.store.Keep(c.Request.Context(), s.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.Error(c, http.StatusGone, "Form session has ended")
			return nil, false
		}
		h.log.Warn("renew lease failed", zap.String("session", s.ID), zap.Error(err))
	}
	return s, true
}

func (h *Handler) newRegistry(id string) *tracker.Registry {
	opts := []tracker.Option{
		tracker.WithLogger(h.log),
		tracker.WithConcurrency(h.deps.DeleteConcurrency),
	}
	if h.deps.Ledger != nil {
		opts = append(opts, tracker.WithLedger(h.deps.Ledger))
	}
	return tracker.New(id, h.deps.Gateway, opts...)
}

// POST /form-sessions
func (h *Handler) create(c *gin.Context) {
	var dto openDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	sess := &Session{
		ID:        uuid.NewString(),
		Kind:      dto.Kind,
		UserID:    middleware.CurrentUserID(c),
		EntityID:  dto.EntityID,
		CreatedAt: time.Now(),
		Recorder:  notify.NewRecorder(),
	}
	sess.Registry = h.newRegistry(sess.ID)
	sink := notify.Multi(sess.Recorder, notify.Log(h.log.With(zap.String("session", sess.ID))))

	var err error
	switch dto.Kind {
	case KindNotice:
		opts := notice.FormOptions{
			Placeholders: h.deps.Placeholders,
			SettleDelay:  h.deps.SettleDelay,
			Notifier:     sink,
			Logger:       h.log,
		}
		if dto.EntityID > 0 {
			sess.Notice, err = notice.LoadForm(ctx, h.deps.Notices, h.deps.Gateway, sess.Registry, dto.EntityID, opts)
		} else {
			sess.Notice = notice.NewForm(h.deps.Notices, h.deps.Gateway, sess.Registry, opts)
		}
	case KindGallery:
		if dto.Department != "" && !gallery.ValidDepartment(dto.Department) {
			response.BadRequest(c, "Invalid department")
			return
		}
		opts := gallery.FormOptions{Department: dto.Department, Notifier: sink, Logger: h.log}
		if dto.EntityID > 0 {
			sess.Gallery, err = gallery.LoadForm(ctx, h.deps.Gallery, sess.Registry, dto.EntityID, opts)
		} else {
			sess.Gallery = gallery.NewForm(h.deps.Gallery, sess.Registry, opts)
		}
	}
	if err != nil {
		fail(c, sess, err)
		return
	}

	if err := h.store.Open(ctx, sess); err != nil {
		sess.Close(ctx)
		response.InternalError(c, err)
		return
	}
	reply(c, http.StatusCreated, sess, gin.H{"session": toResponse(sess)})
}

// GET /form-sessions/:id
func (h *Handler) show(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	reply(c, http.StatusOK, s, gin.H{"session": toResponse(s)})
}

// POST /form-sessions/:id/ready is sent once the editing surface mounted.
func (h *Handler) ready(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Notice != nil {
		s.Notice.Editor().Mount()
	}
	reply(c, http.StatusOK, s, gin.H{"session": toResponse(s)})
}

// PUT /form-sessions/:id/content
func (h *Handler) content(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Notice == nil {
		response.BadRequest(c, "This form has no rich content")
		return
	}
	var dto contentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var accepted bool
	switch {
	case dto.Markdown != nil:
		var err error
		if accepted, err = s.Notice.Editor().SetMarkdown(ctx, *dto.Markdown); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	case dto.HTML != nil:
		accepted = s.Notice.Editor().Apply(ctx, *dto.HTML)
	default:
		response.BadRequest(c, "html or markdown is required")
		return
	}
	reply(c, http.StatusOK, s, gin.H{"accepted": accepted, "session": toResponse(s)})
}

// POST /form-sessions/:id/images (multipart "image", optional "cursor")
func (h *Handler) insertImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Notice == nil {
		response.BadRequest(c, "This form has no rich content")
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image is required")
		return
	}
	file, err := readFile(fh, gateway.MaxImageSize)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if raw := c.PostForm("cursor"); raw != "" {
		if pos, err := strconv.Atoi(raw); err == nil {
			s.Notice.Buffer().SetCursor(pos)
		}
	}

	rel, err := s.Notice.Editor().InsertImage(c.Request.Context(), file)
	if err != nil {
		fail(c, s, err)
		return
	}
	reply(c, http.StatusCreated, s, gin.H{
		"url":     rel,
		"html":    s.Notice.Buffer().HTML(),
		"session": toResponse(s),
	})
}

// POST /form-sessions/:id/attachments (multipart "files", repeated)
func (h *Handler) addAttachments(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Notice == nil {
		response.BadRequest(c, "This form has no attachments")
		return
	}
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		response.BadRequest(c, "files are required")
		return
	}
	files := make([]gateway.File, 0, len(form.File["files"]))
	for _, fh := range form.File["files"] {
		f, err := readFile(fh, gateway.MaxDocumentSize)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		files = append(files, f)
	}

	added, err := s.Notice.Attachments().AddFiles(c.Request.Context(), files)
	if err != nil && len(added) == 0 {
		fail(c, s, err)
		return
	}
	body := gin.H{"added": added, "session": toResponse(s)}
	if err != nil {
		body["error"] = err.Error()
	}
	reply(c, http.StatusOK, s, body)
}

// DELETE /form-sessions/:id/attachments/:index
func (h *Handler) removeAttachment(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Notice == nil {
		response.BadRequest(c, "This form has no attachments")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.BadRequest(c, "invalid index")
		return
	}
	if err := s.Notice.Attachments().RemoveAt(c.Request.Context(), index); err != nil {
		fail(c, s, err)
		return
	}
	reply(c, http.StatusOK, s, gin.H{"session": toResponse(s)})
}

// PUT /form-sessions/:id/thumbnail (multipart "thumbnail")
func (h *Handler) thumbnail(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if s.Gallery == nil {
		response.BadRequest(c, "This form has no thumbnail")
		return
	}
	fh, err := c.FormFile("thumbnail")
	if err != nil {
		response.BadRequest(c, "thumbnail is required")
		return
	}
	file, err := readFile(fh, gateway.MaxImageSize)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := s.Gallery.SetThumbnail(file); err != nil {
		fail(c, s, err)
		return
	}
	reply(c, http.StatusOK, s, gin.H{"session": toResponse(s)})
}

// POST /form-sessions/:id/heartbeat keeps an idle page's session alive;
// session() does the renewal.
func (h *Handler) heartbeat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	reply(c, http.StatusOK, s, gin.H{"ok": 1})
}

// POST /form-sessions/:id/submit. A successful submit ends the session.
func (h *Handler) submit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		body gin.H
		err  error
	)
	if s.Notice != nil {
		var in notice.SubmitInput
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		var saved *notice.Notice
		if saved, err = s.Notice.Submit(ctx, in); err == nil {
			body = gin.H{"notice": saved}
		}
	} else {
		var in gallery.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		var saved *gallery.Item
		if saved, err = s.Gallery.Submit(ctx, in); err == nil {
			body = gin.H{"galleryItem": saved}
		}
	}
	if err != nil {
		fail(c, s, err)
		return
	}

	if _, err := h.store.Close(context.WithoutCancel(ctx), s.ID); err != nil {
		h.log.Warn("close after submit", zap.String("session", s.ID), zap.Error(err))
	}
	reply(c, http.StatusOK, s, body)
}

// POST /form-sessions/:id/cancel
func (h *Handler) cancel(c *gin.Context) {
	h.end(c, "cancel")
}

// POST /form-sessions/:id/unload is the page-unload beacon.
func (h *Handler) unload(c *gin.Context) {
	h.end(c, "unload")
}

func (h *Handler) end(c *gin.Context, reason string) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	deleted := s.Cancel(ctx)
	n, err := h.store.Close(ctx, s.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		fail(c, s, err)
		return
	}
	deleted += n
	h.log.Info("form session ended", zap.String("session", s.ID), zap.String("reason", reason), zap.Int("deleted", deleted))
	reply(c, http.StatusOK, s, gin.H{"deleted": deleted})
}

// readFile copies an uploaded part into memory; the request's temporary
// files are removed once the handler returns. Oversized parts keep only
// their metadata so validation rejects them without reading the body.
func readFile(fh *multipart.FileHeader, limit int64) (gateway.File, error) {
	meta := gateway.FromFileHeader(fh)
	if fh.Size > limit {
		meta.Open = nil
		return meta, nil
	}
	src, err := fh.Open()
	if err != nil {
		return gateway.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	defer src.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(src, limit+1)); err != nil {
		return gateway.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return gateway.FromBytes(meta.Name, meta.ContentType, buf.Bytes()), nil
}
