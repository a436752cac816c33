// Package wind publishes the interpolated wind-field raster. Each job fetches
// the AWS minutely observations, rasterizes them into an RGBA PNG, and
// publishes the image under a fresh id alongside a metadata artifact that
// tells clients how to place the raster on the map.
package wind

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/fetch"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/scheduler"
)

const (
	awsURL = "http://www.weather.go.kr/cgi-bin/aws/nph-aws_txt_min"

	okPeriod   = 5 * time.Minute
	failPeriod = time.Minute

	// Old images stay downloadable for clients holding a stale metadata
	// artifact; anything older is pruned before the next publish.
	imageRetention = 3600
)

type metadata struct {
	Error      bool    `json:"error"`
	ID         uint64  `json:"id"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Resolution float64 `json:"resolution"`
	OffsetX    float64 `json:"offset_x"`
	OffsetY    float64 `json:"offset_y"`
	MinX       float64 `json:"min_x"`
	MinY       float64 `json:"min_y"`
	MaxX       float64 `json:"max_x"`
	MaxY       float64 `json:"max_y"`
}

// Feed is the wind-map cache pipeline.
type Feed struct {
	stations map[string]Station
	slot     *feedcache.Slot
	fetcher  func(url string) (string, error)

	mu     sync.RWMutex
	images map[uint64][]byte

	epoch time.Time
	now   func() time.Time
}

// New loads the station index from dataDir. Image ids are seconds on a clock
// that starts when the feed is constructed.
func New(dataDir string) (*Feed, error) {
	stations, err := loadStations(dataDir)
	if err != nil {
		return nil, err
	}

	return &Feed{
		stations: stations,
		slot:     feedcache.NewSlot(""),
		fetcher:  fetch.Text,
		images:   make(map[uint64][]byte),
		epoch:    time.Now(),
		now:      time.Now,
	}, nil
}

// Metadata returns the current metadata artifact.
func (f *Feed) Metadata() string {
	return f.slot.Get()
}

// Image returns the raster published under id, if it is still retained.
func (f *Feed) Image(id uint64) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	img, ok := f.images[id]
	return img, ok
}

// Register performs the initial build and adds the periodic job.
func (f *Feed) Register(b *scheduler.Builder) {
	delay := failPeriod
	if err := f.build(); err != nil {
		logging.Op().Warn("fail to init wind map cache", "error", err)
		f.slot.Set(`{"error":true}`)
	} else {
		metrics.RecordPublish("wind")
		delay = okPeriod
	}
	b.AddTask(scheduler.NewTask(f.job, delay))
}

func (f *Feed) job() time.Duration {
	logging.Op().Info("start job", "feed", "wind")
	start := time.Now()

	if err := f.build(); err != nil {
		logging.Op().Warn("fail to update wind map", "error", err)
		metrics.RecordJobRun("wind", false, time.Since(start))
		return failPeriod
	}

	metrics.RecordPublish("wind")
	metrics.RecordJobRun("wind", true, time.Since(start))
	return okPeriod
}

// build fetches the observation page and publishes a new raster. A snapshot
// with no usable readings is not an upstream failure: it publishes an error
// artifact with an empty image and keeps the normal period.
func (f *Feed) build() error {
	html, err := f.fetcher(awsURL)
	if err != nil {
		return fmt.Errorf("fetch wind data: %w", err)
	}

	readings := parseReadings(html, f.stations)
	id := f.imageID()

	meta := metadata{
		ID:         id,
		Width:      gridWidth,
		Height:     gridHeight,
		Resolution: gridResolution,
		OffsetX:    gridXOffset,
		OffsetY:    gridYOffset,
	}

	var img []byte
	if len(readings) == 0 {
		meta.Error = true
	} else {
		r, err := rasterize(readings)
		if err != nil {
			return err
		}
		img = r.png
		meta.MinX, meta.MinY = r.minX, r.minY
		meta.MaxX, meta.MaxY = r.maxX, r.maxY
	}

	artifact, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	f.publish(id, img)
	f.slot.Set(string(artifact))
	return nil
}

// publish prunes expired images and stores the new one. Pruning before the
// insert keeps the map bounded to one image per period over the retention
// window.
func (f *Feed) publish(id uint64, img []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for old := range f.images {
		if old+imageRetention <= id {
			delete(f.images, old)
		}
	}
	f.images[id] = img
}

func (f *Feed) imageID() uint64 {
	return uint64(f.now().Sub(f.epoch) / time.Second)
}
