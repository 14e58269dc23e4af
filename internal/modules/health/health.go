package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mx-space/portal/internal/pkg/nativelog"
	"github.com/mx-space/portal/internal/pkg/response"
)

type logItem struct {
	Size     string `json:"size"`
	Filename string `json:"filename"`
	Index    int    `json:"index"`
	Created  int64  `json:"created"`
}

// Pinger is satisfied by the redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are optional; a nil dependency is reported as disabled.
type Deps struct {
	DB       *gorm.DB
	Redis    Pinger
	Sessions func() int
	LogDir   string
}

func RegisterRoutes(rg *gin.RouterGroup, deps Deps, adminMWs ...gin.HandlerFunc) {
	rg.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		body := gin.H{}

		if deps.DB != nil {
			sqlDB, err := deps.DB.DB()
			ok := err == nil && sqlDB.PingContext(ctx) == nil
			body["database"] = ok
			if !ok {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		if deps.Redis != nil {
			ok := deps.Redis.Ping(ctx) == nil
			body["redis"] = ok
			if !ok {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		if deps.Sessions != nil {
			body["sessions"] = deps.Sessions()
		}
		body["status"] = status
		c.JSON(code, body)
	})

	logGroup := rg.Group("/health/log", adminMWs...)
	logGroup.GET("", func(c *gin.Context) {
		dir := nativelog.ResolveDir(deps.LogDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				response.OK(c, []logItem{})
				return
			}
			response.InternalError(c, err)
			return
		}

		items := make([]logItem, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			items = append(items, logItem{
				Size:     formatByteSize(info.Size()),
				Filename: entry.Name(),
				Created:  info.ModTime().UnixMilli(),
			})
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].Created > items[j].Created
		})
		for i := range items {
			items[i].Index = i
		}
		response.OK(c, items)
	})

	logGroup.GET("/file", func(c *gin.Context) {
		filename := strings.TrimSpace(c.Query("filename"))
		if filename == "" {
			filename = nativelog.TodayFilename(time.Now())
		}
		filename = filepath.Base(filename)
		if filename == "." || filename == string(filepath.Separator) {
			response.UnprocessableEntity(c, "filename must be string")
			return
		}
		data, err := os.ReadFile(filepath.Join(nativelog.ResolveDir(deps.LogDir), filename))
		if err != nil {
			response.BadRequest(c, "log file not exists")
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	})
}

func formatByteSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
