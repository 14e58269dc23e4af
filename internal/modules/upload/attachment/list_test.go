package attachment

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/modules/upload/uploadtest"
	"github.com/mx-space/portal/internal/pkg/notify"
	"github.com/mx-space/portal/internal/pkg/portalapi"
)

func newTestList(t *testing.T, initial []string) (*List, *tracker.Registry, *uploadtest.Portal, *notify.Recorder) {
	t.Helper()
	portal := uploadtest.NewPortal()
	t.Cleanup(portal.Close)
	gw := gateway.New(portalapi.New(portal.URL()))
	registry := tracker.New("s1", gw)
	rec := notify.NewRecorder()
	return New(gw, registry, Options{Initial: initial, Notifier: rec}), registry, portal, rec
}

func doc(name string, size int) gateway.File {
	return gateway.FromBytes(name, "application/pdf", make([]byte, size))
}

func TestAddFileAppendsAndTracks(t *testing.T) {
	list, registry, _, rec := newTestList(t, nil)
	u, err := list.AddFile(context.Background(), doc("report.pdf", 1024*1024))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := list.Attachments(); len(got) != 1 || got[0] != u {
		t.Fatalf("attachments: %v", got)
	}
	if docs := registry.Documents(); len(docs) != 1 || docs[0].URL != u {
		t.Fatalf("registry documents: %+v", docs)
	}
	toasts := rec.Drain()
	if len(toasts) != 1 || toasts[0].Message != "File uploaded successfully!" {
		t.Fatalf("toasts: %+v", toasts)
	}
}

func TestAddFileSkipsDuplicates(t *testing.T) {
	list, registry, _, _ := newTestList(t, nil)
	ctx := context.Background()
	first, _ := list.AddFile(ctx, doc("same.pdf", 10))
	second, err := list.AddFile(ctx, doc("same.pdf", 10))
	if err != nil || first != second {
		t.Fatalf("second add: url=%q err=%v", second, err)
	}
	if got := list.Attachments(); len(got) != 1 {
		t.Fatalf("duplicate appended: %v", got)
	}
	if got := registry.Documents(); len(got) != 1 {
		t.Fatalf("duplicate tracked: %+v", got)
	}
}

func TestAddFileTooLargeNeverUploads(t *testing.T) {
	list, _, portal, rec := newTestList(t, nil)
	big := gateway.File{Name: "huge.zip", Size: gateway.MaxDocumentSize + 1}
	if _, err := list.AddFile(context.Background(), big); !gateway.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	if portal.Calls() != 0 {
		t.Fatalf("network calls: want=0 got=%d", portal.Calls())
	}
	toasts := rec.Drain()
	if len(toasts) != 1 || toasts[0].Level != notify.LevelError || !strings.HasPrefix(toasts[0].Message, "File size must be less than 50MB") {
		t.Fatalf("toasts: %+v", toasts)
	}
}

func TestAddFilesPartialSuccess(t *testing.T) {
	list, _, _, _ := newTestList(t, nil)
	files := []gateway.File{
		doc("a.pdf", 10),
		{Name: "huge.bin", Size: gateway.MaxDocumentSize + 1},
		doc("b.pdf", 10),
	}
	added, err := list.AddFiles(context.Background(), files)
	if err == nil || !strings.Contains(err.Error(), "huge.bin") {
		t.Fatalf("want joined error naming huge.bin, got %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("added: %v", added)
	}
	got := list.Attachments()
	sort.Strings(got)
	if len(got) != 2 || !strings.HasSuffix(got[0], "/a.pdf") || !strings.HasSuffix(got[1], "/b.pdf") {
		t.Fatalf("attachments: %v", got)
	}
}

func TestRemoveOriginalIsLocalOnly(t *testing.T) {
	list, _, portal, _ := newTestList(t, []string{"/uploads/files/old.docx"})
	if err := list.RemoveAt(context.Background(), 0); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(list.Attachments()) != 0 {
		t.Fatalf("attachments: %v", list.Attachments())
	}
	if portal.Calls() != 0 || len(portal.DeletedFiles()) != 0 {
		t.Fatalf("pre-existing attachment deleted remotely")
	}
}

func TestRemoveFreshDeletesBeforeUnlisting(t *testing.T) {
	list, registry, portal, _ := newTestList(t, []string{"/uploads/files/old.docx"})
	ctx := context.Background()
	u, err := list.AddFile(ctx, doc("new.pdf", 10))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := list.RemoveAt(ctx, 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := portal.DeletedFiles(); len(got) != 1 || got[0] != u {
		t.Fatalf("deleted files: %v", got)
	}
	if got := list.Attachments(); len(got) != 1 || got[0] != "/uploads/files/old.docx" {
		t.Fatalf("attachments: %v", got)
	}
	if len(registry.Documents()) != 0 {
		t.Fatalf("registry still tracks removed file")
	}
}

func TestRemoveFreshFailureLeavesList(t *testing.T) {
	list, registry, portal, rec := newTestList(t, nil)
	ctx := context.Background()
	u, _ := list.AddFile(ctx, doc("stuck.pdf", 10))
	rec.Drain()
	portal.DeleteStatus[u] = http.StatusInternalServerError

	err := list.RemoveAt(ctx, 0)
	var terr *gateway.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if got := list.Attachments(); len(got) != 1 || got[0] != u {
		t.Fatalf("attachments changed: %v", got)
	}
	if len(registry.Documents()) != 1 {
		t.Fatalf("registry changed")
	}
	toasts := rec.Drain()
	if len(toasts) != 1 || toasts[0].Level != notify.LevelError {
		t.Fatalf("toasts: %+v", toasts)
	}
}

func TestRemoveAtOutOfRange(t *testing.T) {
	list, _, _, _ := newTestList(t, nil)
	if err := list.RemoveAt(context.Background(), 3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("want ErrIndexOutOfRange, got %v", err)
	}
}

func TestAddAfterRegistryClosedDeletesAndSkips(t *testing.T) {
	list, registry, portal, _ := newTestList(t, nil)
	ctx := context.Background()
	registry.Close(ctx)

	if _, err := list.AddFile(ctx, doc("late.pdf", 10)); !errors.Is(err, tracker.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if len(list.Attachments()) != 0 {
		t.Fatalf("late upload appended")
	}
	if len(portal.DeletedFiles()) != 1 {
		t.Fatalf("late upload not compensated: %v", portal.DeletedFiles())
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"http://h/uploads/files/%ED%95%9C%EA%B8%80.pdf": "한글.pdf",
		"/uploads/files/report.pdf":                     "report.pdf",
		"/uploads/files/bad%zz.pdf":                     "bad%zz.pdf",
		"/uploads/files/":                               "Unknown file",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q): want=%q got=%q", in, want, got)
		}
	}
}
