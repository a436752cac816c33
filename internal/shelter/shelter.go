// Package shelter implements the evacuation-shelter subsystem: a DB-backed
// in-memory index serving the public shelter map, user feedback scoring with
// periodic decay, and admin CRUD. The index is the source of truth between
// database syncs; two background jobs keep the serialized artifacts and the
// database rows caught up with it.
package shelter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/scheduler"
	"github.com/neurowhai/firemap/internal/store"
	"github.com/neurowhai/firemap/internal/util"
)

const (
	dataPeriod   = 5 * time.Minute
	updatePeriod = 60 * time.Minute

	updateRetries = 3

	captchaChannelUserShelter = 3
	captchaChannelEval        = 4
)

// CaptchaVerifier is the consume-on-verify captcha contract.
type CaptchaVerifier interface {
	VerifyAndRemove(w http.ResponseWriter, r *http.Request, channel int, userAnswer string) bool
}

// shelter is one index entry. cached means the per-shelter JSON reflects the
// current counters; synced means the database row does.
type shelter struct {
	name       string
	latitude   float64
	longitude  float64
	info       string
	recentGood int32
	recentBad  int32

	cached bool
	synced bool
	data   string
}

func (s *shelter) render(id int32) string {
	data, _ := json.Marshal(struct {
		ID        int32   `json:"id"`
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Info      string  `json:"info"`
		Good      int32   `json:"good"`
		Bad       int32   `json:"bad"`
	}{id, s.name, s.latitude, s.longitude, s.info, s.recentGood, s.recentBad})
	return string(data)
}

// Options configures a shelter Service.
type Options struct {
	Store    store.Store
	Captcha  CaptchaVerifier
	DataDir  string
	AdminID  string
	AdminPwd string
}

// Service owns the shelter index and its HTTP surface.
type Service struct {
	store        store.Store
	captcha      CaptchaVerifier
	dataDir      string
	adminID      string
	adminPwdHash string

	slot *feedcache.Slot

	mu       sync.RWMutex
	shelters map[int32]*shelter
}

// NewService builds the service.
func NewService(opts Options) *Service {
	return &Service{
		store:        opts.Store,
		captcha:      opts.Captcha,
		dataDir:      opts.DataDir,
		adminID:      opts.AdminID,
		adminPwdHash: util.HashPassword(opts.AdminPwd),
		slot:         feedcache.NewSlot(""),
		shelters:     make(map[int32]*shelter),
	}
}

type seedEntry struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Capacity  int64   `json:"capacity"`
	Area      float64 `json:"area"`
}

// Register loads the index from the database (seeding it from the bundled
// roster when the table is empty), publishes the initial artifacts and adds
// the two background jobs.
func (s *Service) Register(b *scheduler.Builder) error {
	ctx := context.Background()

	rows, err := s.store.Shelters(ctx)
	if err != nil {
		return fmt.Errorf("load shelters: %w", err)
	}

	if len(rows) == 0 {
		if err := s.seed(ctx); err != nil {
			return err
		}
	} else {
		for _, row := range rows {
			s.shelters[row.ID] = &shelter{
				name:       row.Name,
				latitude:   row.Latitude,
				longitude:  row.Longitude,
				info:       row.Info,
				recentGood: row.RecentGood,
				recentBad:  row.RecentBad,
				synced:     true,
			}
		}
	}

	s.rebuildData()

	b.AddTask(scheduler.NewTask(s.dataJob, dataPeriod))
	b.AddTask(scheduler.NewTask(s.updateJob, updatePeriod))
	return nil
}

// seed inserts the bundled shelter roster into the empty table.
func (s *Service) seed(ctx context.Context) error {
	raw, err := os.ReadFile(filepath.Join(s.dataDir, "shelter.json"))
	if err != nil {
		return fmt.Errorf("read shelter seed: %w", err)
	}

	var seedFile struct {
		Shelters []seedEntry `json:"shelters"`
	}
	if err := json.Unmarshal(raw, &seedFile); err != nil {
		return fmt.Errorf("parse shelter seed: %w", err)
	}

	for _, e := range seedFile.Shelters {
		info := fmt.Sprintf("수용: %d명, 면적: %.f㎡", e.Capacity, e.Area)
		id, err := s.store.InsertShelter(ctx, store.NewShelter{
			Name:      e.Name,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Info:      info,
		})
		if err != nil {
			return fmt.Errorf("seed shelter %q: %w", e.Name, err)
		}
		s.shelters[id] = &shelter{
			name:      e.Name,
			latitude:  e.Latitude,
			longitude: e.Longitude,
			info:      info,
			synced:    true,
		}
	}
	return nil
}

// MapArtifact returns the public shelter map.
func (s *Service) MapArtifact() string {
	return s.slot.Get()
}

// dataJob refreshes per-shelter JSON for dirty entries and republishes the
// shelter map.
func (s *Service) dataJob() time.Duration {
	logging.Op().Info("start job", "feed", "shelter-data")
	start := time.Now()

	s.rebuildData()

	metrics.RecordPublish("shelter")
	metrics.RecordJobRun("shelter-data", true, time.Since(start))
	return dataPeriod
}

func (s *Service) rebuildData() {
	type mapEntry struct {
		ID        int32   `json:"id"`
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Info      string  `json:"info"`
		Good      int32   `json:"good"`
		Bad       int32   `json:"bad"`
	}

	s.mu.Lock()
	entries := make([]mapEntry, 0, len(s.shelters))
	for id, sh := range s.shelters {
		if !sh.cached {
			sh.data = sh.render(id)
			sh.cached = true
		}
		entries = append(entries, mapEntry{
			ID: id, Name: sh.name,
			Latitude: sh.latitude, Longitude: sh.longitude,
			Info: sh.info, Good: sh.recentGood, Bad: sh.recentBad,
		})
	}
	s.mu.Unlock()

	artifact, _ := json.Marshal(struct {
		Shelters []mapEntry `json:"shelters"`
		Size     int        `json:"size"`
	}{entries, len(entries)})
	s.slot.Set(string(artifact))
}

// updateJob writes dirty counters back to the database, then decays every
// non-zero counter by one so stale feedback fades out over the following
// hours. Decayed shelters are marked dirty again for the next rounds.
func (s *Service) updateJob() time.Duration {
	logging.Op().Info("start job", "feed", "shelter-update")
	start := time.Now()
	ctx := context.Background()

	type pending struct {
		id        int32
		good, bad int32
	}

	s.mu.RLock()
	var dirty []pending
	for id, sh := range s.shelters {
		if !sh.synced {
			dirty = append(dirty, pending{id: id, good: sh.recentGood, bad: sh.recentBad})
		}
	}
	s.mu.RUnlock()

	synced := make(map[int32]bool, len(dirty))
	for _, p := range dirty {
		for attempt := 0; attempt < updateRetries; attempt++ {
			err := s.store.UpdateShelterScore(ctx, p.id, p.good, p.bad)
			if err == nil {
				synced[p.id] = true
				break
			}
			logging.Op().Warn("fail to update a shelter in DB",
				"id", p.id, "attempt", attempt+1, "error", err)
		}
	}

	s.mu.Lock()
	for _, p := range dirty {
		if sh, ok := s.shelters[p.id]; ok && synced[p.id] {
			sh.synced = true
		}
	}
	for _, sh := range s.shelters {
		if sh.recentGood > 0 || sh.recentBad > 0 {
			if sh.recentGood > 0 {
				sh.recentGood--
			}
			if sh.recentBad > 0 {
				sh.recentBad--
			}
			sh.cached = false
			sh.synced = false
		}
	}
	s.mu.Unlock()

	metrics.RecordJobRun("shelter-update", true, time.Since(start))
	return updatePeriod
}

func (s *Service) isAdmin(id, hashedPwd string) bool {
	return s.adminID != "" && s.adminID == id && s.adminPwdHash == hashedPwd
}
