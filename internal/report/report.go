// Package report implements the user fire-report subsystem: form-validated
// submissions gated by captcha, base64 image upload with a two-phase
// upload-then-publish file move, hashed-password deletion, and a periodic
// rebuild of the public report map artifact.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/neurowhai/firemap/internal/cache"
	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/scheduler"
	"github.com/neurowhai/firemap/internal/store"
	"github.com/neurowhai/firemap/internal/util"
)

const (
	// Reports older than this fall off the public map.
	reportWindow = 48 * time.Hour

	okPeriod   = 30 * time.Second
	failPeriod = 2 * time.Second

	// Upload body limit in characters of base64 text, sized so the decoded
	// image stays under 8 MiB.
	uploadLimit = (8 * 1024 * 1024 / 3) * 4

	imagePublicDir = "images"

	cacheTTL = time.Hour

	captchaChannelReport    = 1
	captchaChannelBadReport = 2
)

// CaptchaVerifier is the consume-on-verify captcha contract the handlers
// gate submissions through.
type CaptchaVerifier interface {
	VerifyAndRemove(w http.ResponseWriter, r *http.Request, channel int, userAnswer string) bool
}

// Options configures a report Service.
type Options struct {
	Store     store.Store
	Cache     cache.Cache
	Captcha   CaptchaVerifier
	StaticDir string
	UploadDir string
	AdminID   string
	AdminPwd  string
}

// Service owns the report map artifact and the report HTTP surface.
type Service struct {
	store        store.Store
	cache        cache.Cache
	captcha      CaptchaVerifier
	slot         *feedcache.Slot
	staticDir    string
	uploadDir    string
	adminID      string
	adminPwdHash string
	now          func() time.Time
}

// NewService builds the service. The admin password is hashed once here and
// compared against hashed request credentials from then on.
func NewService(opts Options) *Service {
	return &Service{
		store:        opts.Store,
		cache:        opts.Cache,
		captcha:      opts.Captcha,
		slot:         feedcache.NewSlot(""),
		staticDir:    opts.StaticDir,
		uploadDir:    opts.UploadDir,
		adminID:      opts.AdminID,
		adminPwdHash: util.HashPassword(opts.AdminPwd),
		now:          time.Now,
	}
}

// Register creates the image directories, builds the initial map artifact and
// adds the periodic rebuild job. A failed initial build is a startup error.
func (s *Service) Register(b *scheduler.Builder) error {
	if err := os.MkdirAll(filepath.Join(s.staticDir, imagePublicDir), 0o755); err != nil {
		return fmt.Errorf("create public image dir: %w", err)
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	data, err := s.buildMap(context.Background())
	if err != nil {
		return fmt.Errorf("build report map: %w", err)
	}
	s.slot.Set(data)

	b.AddTask(scheduler.NewTask(s.job, okPeriod))
	return nil
}

func (s *Service) job() time.Duration {
	logging.Op().Info("start job", "feed", "report")
	start := time.Now()

	data, err := s.buildMap(context.Background())
	if err != nil {
		logging.Op().Warn("fail to get report map data", "error", err)
		metrics.RecordJobRun("report", false, time.Since(start))
		return failPeriod
	}

	s.slot.Set(data)
	metrics.RecordPublish("report")
	metrics.RecordJobRun("report", true, time.Since(start))
	return okPeriod
}

type mapEntry struct {
	ID          int32   `json:"id"`
	UserID      string  `json:"user_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CreatedTime int64   `json:"created_time"`
	Lvl         int32   `json:"lvl"`
}

// buildMap serializes the public projection of every report inside the
// visibility window.
func (s *Service) buildMap(ctx context.Context) (string, error) {
	reports, err := s.store.ReportsWithin(ctx, reportWindow)
	if err != nil {
		return "", err
	}

	entries := make([]mapEntry, 0, len(reports))
	for _, r := range reports {
		entries = append(entries, mapEntry{
			ID:          r.ID,
			UserID:      r.UserID,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			CreatedTime: r.CreatedTime.Unix(),
			Lvl:         r.Lvl,
		})
	}

	artifact, err := json.Marshal(struct {
		Reports []mapEntry `json:"reports"`
		Size    int        `json:"size"`
	}{entries, len(entries)})
	if err != nil {
		return "", err
	}
	return string(artifact), nil
}

// MapArtifact returns the current public report map.
func (s *Service) MapArtifact() string {
	return s.slot.Get()
}

func (s *Service) isAdmin(id, hashedPwd string) bool {
	return s.adminID != "" && s.adminID == id && s.adminPwdHash == hashedPwd
}
