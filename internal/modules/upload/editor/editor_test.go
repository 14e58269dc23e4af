package editor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/modules/upload/uploadtest"
	"github.com/mx-space/portal/internal/pkg/notify"
	"github.com/mx-space/portal/internal/pkg/portalapi"
)

var testPlaceholders = []string{
	"<p>Write</p>",
	"<p>Preview</p>",
	"<p>Start writing your announcement...</p>",
	"<p>Markdown</p>",
	"<p>WYSIWYG</p>",
	"<p></p>",
}

type fixture struct {
	portal   *uploadtest.Portal
	gw       *gateway.Client
	registry *tracker.Registry
	buffer   *Buffer
	recorder *notify.Recorder
	changes  []string
	uploads  []string
	editor   *Editor
}

func newFixture(t *testing.T, initial string) *fixture {
	t.Helper()
	portal := uploadtest.NewPortal()
	t.Cleanup(portal.Close)

	f := &fixture{
		portal:   portal,
		gw:       gateway.New(portalapi.New(portal.URL())),
		buffer:   NewBuffer(initial),
		recorder: notify.NewRecorder(),
	}
	f.registry = tracker.New("s1", f.gw)
	f.editor = New(f.buffer, f.gw, f.registry, Options{
		InitialContent: initial,
		Placeholders:   testPlaceholders,
		OnChange:       func(markup string) { f.changes = append(f.changes, markup) },
		OnImageUpload:  func(url string) { f.uploads = append(f.uploads, url) },
		Notifier:       f.recorder,
	})
	return f
}

func png(name string) gateway.File {
	return gateway.FromBytes(name, "image/png", bytes.Repeat([]byte{1}, 200*1024))
}

func TestScanImages(t *testing.T) {
	markup := `<p>a<img src="http://h:1/u/a.png" alt="a"></p><img class="x" src="/u/b.png"><img src="/u/a.png"><img alt="no src">`
	got := ScanImages(markup)
	want := []string{"/u/a.png", "/u/b.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ScanImages: want=%v got=%v", want, got)
	}
}

func TestScanImagesQuoting(t *testing.T) {
	markup := `<img src='http://h:1/u/c.png'><img data-src="/u/lazy.png" alt='x' src = "/u/d.png"><img src=""><img data-src="/u/only-lazy.png">`
	got := ScanImages(markup)
	want := []string{"/u/c.png", "/u/d.png"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ScanImages: want=%v got=%v", want, got)
	}
}

func TestSanitizeStripsPlaceholders(t *testing.T) {
	if got := Sanitize("<p>Write</p><p>Preview</p><p></p>", testPlaceholders); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
	if got := Sanitize(" <p>Markdown</p><p>Hello</p> ", testPlaceholders); got != "<p>Hello</p>" {
		t.Fatalf("want=%q got=%q", "<p>Hello</p>", got)
	}
}

func TestChangesIgnoredUntilReady(t *testing.T) {
	f := newFixture(t, "")
	f.buffer.SetHTML("<p>typing</p>")
	if f.editor.ContentChanged(context.Background()) {
		t.Fatalf("change accepted while uninitialized")
	}
	if len(f.changes) != 0 {
		t.Fatalf("OnChange fired before ready: %v", f.changes)
	}
}

func TestMountSettlesAndStripsBoilerplate(t *testing.T) {
	f := newFixture(t, "")
	f.buffer.SetHTML("<p>Write</p><p>Preview</p><p>Start writing your announcement...</p>")
	f.editor.Mount()
	if f.editor.State() != StateReady {
		t.Fatalf("state: want=%s got=%s", StateReady, f.editor.State())
	}
	if f.buffer.HTML() != "" {
		t.Fatalf("placeholders left behind: %q", f.buffer.HTML())
	}
	if !f.editor.ContentChanged(context.Background()) || len(f.changes) != 1 || f.changes[0] != "" {
		t.Fatalf("empty document should report empty content, got %v", f.changes)
	}
}

func TestMountWithDelay(t *testing.T) {
	f := newFixture(t, "")
	f.editor.opts.SettleDelay = 20 * time.Millisecond
	f.editor.Mount()
	if f.editor.State() != StateInitializing {
		t.Fatalf("state: want=%s got=%s", StateInitializing, f.editor.State())
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.editor.State() != StateReady {
		if time.Now().After(deadline) {
			t.Fatalf("editor never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInsertImageRecordsRelativeURL(t *testing.T) {
	f := newFixture(t, "")
	f.editor.Mount()

	rel, err := f.editor.InsertImage(context.Background(), png("img1.png"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rel != "/uploads/images/img1.png" {
		t.Fatalf("relative url: got=%q", rel)
	}
	if !strings.Contains(f.buffer.HTML(), `src="`+f.portal.URL()+rel+`"`) {
		t.Fatalf("absolute url not inserted: %q", f.buffer.HTML())
	}
	if images := f.registry.Images(); len(images) != 1 || images[0].URL != rel || images[0].Origin != tracker.OriginNew {
		t.Fatalf("registry images: %+v", images)
	}
	if len(f.uploads) != 1 || f.uploads[0] != rel {
		t.Fatalf("OnImageUpload: %v", f.uploads)
	}
	toasts := f.recorder.Drain()
	if len(toasts) != 1 || toasts[0].Level != notify.LevelSuccess {
		t.Fatalf("toasts: %+v", toasts)
	}
}

func TestInsertOversizedImageMakesNoCalls(t *testing.T) {
	f := newFixture(t, "")
	f.editor.Mount()
	f.buffer.SetHTML("<p>body</p>")

	big := gateway.File{Name: "big.png", ContentType: "image/png", Size: 15 * 1024 * 1024}
	if _, err := f.editor.InsertImage(context.Background(), big); !gateway.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if f.portal.Calls() != 0 {
		t.Fatalf("network calls: want=0 got=%d", f.portal.Calls())
	}
	if f.buffer.HTML() != "<p>body</p>" {
		t.Fatalf("document changed: %q", f.buffer.HTML())
	}
	toasts := f.recorder.Drain()
	if len(toasts) != 1 || toasts[0].Level != notify.LevelError {
		t.Fatalf("toasts: %+v", toasts)
	}
}

func TestRemovedImageIsDeleted(t *testing.T) {
	f := newFixture(t, "")
	f.editor.Mount()
	ctx := context.Background()

	var abs []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		rel, err := f.editor.InsertImage(ctx, png(name))
		if err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
		abs = append(abs, f.portal.URL()+rel)
	}
	f.editor.ContentChanged(ctx)
	f.editor.Wait()
	if got := f.portal.DeletedImages(); len(got) != 0 {
		t.Fatalf("unexpected deletes: %v", got)
	}

	f.editor.Apply(ctx, `<p><img src="`+abs[0]+`"></p><p><img src="`+abs[2]+`"></p>`)
	f.editor.Wait()

	if got := f.portal.DeletedImages(); len(got) != 1 || got[0] != "/uploads/images/b.png" {
		t.Fatalf("deleted images: %v", got)
	}
	for _, a := range f.registry.Images() {
		if a.URL == "/uploads/images/b.png" {
			t.Fatalf("registry still tracks removed image")
		}
	}
	if len(f.registry.Images()) != 2 {
		t.Fatalf("registry images: %+v", f.registry.Images())
	}
}

func TestPreExistingImagesAreNotSweptButRemovalIsDetected(t *testing.T) {
	initial := `<p>old</p><img src="http://cdn.school/uploads/images/old.png">`
	f := newFixture(t, initial)
	f.editor.Mount()
	ctx := context.Background()

	if n := f.registry.Cleanup(ctx); n != 0 {
		t.Fatalf("pre-existing image swept: %d", n)
	}
	if got := f.editor.Images(); len(got) != 1 || got[0] != "/uploads/images/old.png" {
		t.Fatalf("seeded images: %v", got)
	}

	f.editor.Apply(ctx, "<p>old</p>")
	f.editor.Wait()
	if got := f.portal.DeletedImages(); len(got) != 1 || got[0] != "/uploads/images/old.png" {
		t.Fatalf("deleted images: %v", got)
	}
}

func TestSetMarkdownFeedsChangePath(t *testing.T) {
	f := newFixture(t, "")
	f.editor.Mount()
	ctx := context.Background()
	rel, err := f.editor.InsertImage(ctx, png("md.png"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := f.editor.SetMarkdown(ctx, "# Title\n\n![md]("+f.portal.URL()+rel+")\n")
	if err != nil || !ok {
		t.Fatalf("set markdown: ok=%v err=%v", ok, err)
	}
	if got := f.editor.Images(); len(got) != 1 || got[0] != rel {
		t.Fatalf("images: %v", got)
	}
	last := f.changes[len(f.changes)-1]
	if !strings.Contains(last, "<h1>Title</h1>") {
		t.Fatalf("markdown not rendered: %q", last)
	}

	if _, err := f.editor.SetMarkdown(ctx, "# Title\n"); err != nil {
		t.Fatalf("set markdown: %v", err)
	}
	f.editor.Wait()
	if got := f.portal.DeletedImages(); len(got) != 1 || got[0] != rel {
		t.Fatalf("deleted images: %v", got)
	}
}

func TestBufferCursorInsert(t *testing.T) {
	b := NewBuffer("<p>ab</p>")
	b.SetCursor(4)
	b.InsertImage("/x.png", `a"b`)
	if got := b.HTML(); got != `<p>a<img src="/x.png" alt="a&#34;b">b</p>` {
		t.Fatalf("buffer: %q", got)
	}
	b.SetCursor(100)
	if b.Cursor() != -1 {
		t.Fatalf("out of range cursor should reset to end")
	}
}
