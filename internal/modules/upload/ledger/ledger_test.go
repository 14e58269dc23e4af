package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mx-space/portal/internal/database"
	"github.com/mx-space/portal/internal/models"
	"github.com/mx-space/portal/internal/modules/upload/gateway"
	"github.com/mx-space/portal/internal/modules/upload/tracker"
	"github.com/mx-space/portal/internal/pkg/pagination"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type recordingRemover struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]bool
}

func (r *recordingRemover) DeleteImage(_ context.Context, url string) gateway.DeleteResult {
	return r.del(url)
}

func (r *recordingRemover) DeleteFile(_ context.Context, url string) gateway.DeleteResult {
	return r.del(url)
}

func (r *recordingRemover) del(url string) gateway.DeleteResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, url)
	if r.fail[url] {
		return gateway.DeleteResult{Message: "Delete failed: 500"}
	}
	return gateway.DeleteResult{Success: true}
}

func pendingURLs(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var refs []models.UploadReferenceModel
	if err := db.Where("status = ?", models.UploadStatusPending).Order("url").Find(&refs).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.URL)
	}
	return out
}

func TestLedgerFollowsRegistry(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	reg := tracker.New("11111111-1111-1111-1111-111111111111", &recordingRemover{}, tracker.WithLedger(svc))

	_ = reg.TrackImage(ctx, "/img/a.png")
	_ = reg.TrackImage(ctx, "/img/b.png")
	_ = reg.TrackDocument(ctx, "/files/c.pdf")
	if got := pendingURLs(t, db); strings.Join(got, ",") != "/files/c.pdf,/img/a.png,/img/b.png" {
		t.Fatalf("pending after track: %v", got)
	}

	reg.ForgetImage(ctx, "/img/a.png")
	if got := pendingURLs(t, db); len(got) != 2 {
		t.Fatalf("pending after forget: %v", got)
	}

	reg.Cleanup(ctx)
	if got := pendingURLs(t, db); len(got) != 0 {
		t.Fatalf("pending after cleanup: %v", got)
	}
}

func TestCommitMarksSessionRows(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	reg := tracker.New("22222222-2222-2222-2222-222222222222", &recordingRemover{}, tracker.WithLedger(svc))
	_ = reg.TrackDocument(ctx, "/files/report.pdf")
	reg.Disarm(ctx)

	var ref models.UploadReferenceModel
	if err := db.Where("url = ?", "/files/report.pdf").First(&ref).Error; err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ref.Status != models.UploadStatusCommitted {
		t.Fatalf("status: want=%s got=%s", models.UploadStatusCommitted, ref.Status)
	}
	count, err := svc.CountPending(ctx)
	if err != nil || count != 0 {
		t.Fatalf("pending count: %d err=%v", count, err)
	}
}

func TestSweepStaleSkipsLiveSessionsAndKeepsFailures(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	old := time.Now().Add(-3 * time.Hour)
	rows := []models.UploadReferenceModel{
		{SessionID: "live", URL: "/img/live.png", Kind: models.UploadKindImage, Status: models.UploadStatusPending},
		{SessionID: "dead", URL: "/img/dead.png", Kind: models.UploadKindImage, Status: models.UploadStatusPending},
		{SessionID: "dead", URL: "/files/stuck.pdf", Kind: models.UploadKindDocument, Status: models.UploadStatusPending},
		{SessionID: "dead", URL: "/files/kept.pdf", Kind: models.UploadKindDocument, Status: models.UploadStatusCommitted},
	}
	for i := range rows {
		rows[i].CreatedAt = old
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	fresh := models.UploadReferenceModel{SessionID: "dead", URL: "/img/fresh.png", Kind: models.UploadKindImage, Status: models.UploadStatusPending}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	rm := &recordingRemover{fail: map[string]bool{"/files/stuck.pdf": true}}
	n, err := svc.SweepStale(ctx, time.Hour, func(id string) bool { return id == "live" }, rm, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed rows: want=1 got=%d", n)
	}
	if len(rm.deleted) != 2 {
		t.Fatalf("remote deletes: %v", rm.deleted)
	}
	if got := pendingURLs(t, db); strings.Join(got, ",") != "/files/stuck.pdf,/img/fresh.png,/img/live.png" {
		t.Fatalf("pending after sweep: %v", got)
	}
}

func TestPendingPaginates(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	for _, u := range []string{"/a", "/b", "/c"} {
		if err := svc.Record(ctx, "s", tracker.Asset{URL: u, Kind: tracker.KindDocument}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	refs, pag, err := svc.Pending(ctx, pagination.Query{Page: 1, Size: 2})
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(refs) != 2 || pag.Total != 3 || pag.TotalPage != 2 || !pag.HasNextPage {
		t.Fatalf("unexpected page: len=%d pag=%+v", len(refs), pag)
	}
}

func seedStale(t *testing.T, db *gorm.DB, session, url string, created time.Time) {
	t.Helper()
	ref := models.UploadReferenceModel{SessionID: session, URL: url, Kind: models.UploadKindDocument, Status: models.UploadStatusPending}
	ref.CreatedAt = created
	if err := db.Create(&ref).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSweepStaleReachesPastFailingAndLiveRows(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Now().Add(-5 * time.Hour)
	fail := map[string]bool{}
	for i := 0; i < staleBatchSize; i++ {
		url := fmt.Sprintf("/files/broken-%03d.pdf", i)
		fail[url] = true
		seedStale(t, db, "dead", url, base.Add(time.Duration(i)*time.Second))
	}
	for i := 0; i < staleBatchSize; i++ {
		seedStale(t, db, "live", fmt.Sprintf("/files/open-%03d.pdf", i), base.Add(time.Hour+time.Duration(i)*time.Second))
	}
	seedStale(t, db, "dead", "/files/orphan.pdf", base.Add(2*time.Hour))

	rm := &recordingRemover{fail: fail}
	live := func(id string) bool { return id == "live" }
	for run := 0; run < 2; run++ {
		if _, err := svc.SweepStale(ctx, time.Hour, live, rm, nil); err != nil {
			t.Fatalf("sweep %d: %v", run, err)
		}
	}
	if got := len(rm.deleted); got != staleBatchSize+1 {
		t.Fatalf("remote deletes: want=%d got=%d", staleBatchSize+1, got)
	}
	if last := rm.deleted[len(rm.deleted)-1]; last != "/files/orphan.pdf" {
		t.Fatalf("orphan not swept, last delete %q", last)
	}
	var n int64
	db.Model(&models.UploadReferenceModel{}).Where("url = ?", "/files/orphan.pdf").Count(&n)
	if n != 0 {
		t.Fatalf("orphan row still present")
	}
}

func TestSweepStaleGivesUpAfterMaxAttempts(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	now := time.Now()
	svc.now = func() time.Time { return now }
	seedStale(t, db, "dead", "/files/broken.pdf", now.Add(-3*time.Hour))
	rm := &recordingRemover{fail: map[string]bool{"/files/broken.pdf": true}}

	for run := 0; run < maxDeleteAttempts+2; run++ {
		if _, err := svc.SweepStale(ctx, time.Hour, nil, rm, nil); err != nil {
			t.Fatalf("sweep %d: %v", run, err)
		}
		if run == 0 {
			// backed off: an immediate rerun must not retry
			if _, err := svc.SweepStale(ctx, time.Hour, nil, rm, nil); err != nil {
				t.Fatalf("rerun: %v", err)
			}
			if len(rm.deleted) != 1 {
				t.Fatalf("retried before backoff: %v", rm.deleted)
			}
		}
		now = now.Add(retryDelay(maxDeleteAttempts))
	}
	if len(rm.deleted) != maxDeleteAttempts {
		t.Fatalf("attempts: want=%d got=%d", maxDeleteAttempts, len(rm.deleted))
	}

	var ref models.UploadReferenceModel
	if err := db.Where("url = ?", "/files/broken.pdf").First(&ref).Error; err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ref.Status != models.UploadStatusPending || ref.Attempts != maxDeleteAttempts {
		t.Fatalf("row: status=%s attempts=%d", ref.Status, ref.Attempts)
	}
}
