package crontask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	pkgcron "github.com/mx-space/portal/internal/pkg/cron"
)

func newRouter(t *testing.T) (*gin.Engine, chan struct{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ran := make(chan struct{}, 1)
	sched := pkgcron.New(nil)
	sched.Register(pkgcron.Job{
		Name:        "sweep_idle_sessions",
		Description: "close idle form sessions",
		Interval:    time.Hour,
		Fn: func(context.Context) (int, error) {
			ran <- struct{}{}
			return 1, nil
		},
	})
	r := gin.New()
	NewHandler(sched).RegisterRoutes(r.Group("/api"))
	return r, ran
}

func TestListJobs(t *testing.T) {
	r, _ := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
	var body struct {
		Data []pkgcron.ListItem `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Name != "sweep_idle_sessions" {
		t.Fatalf("jobs: %+v", body.Data)
	}
}

func TestRunJob(t *testing.T) {
	r, ran := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/sweep_idle_sessions/run", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job not run")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/missing/run", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
}
