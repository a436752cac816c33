// Package fireevent publishes ongoing forest-fire events from the national
// fire service JSON feed.
package fireevent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/fetch"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/scheduler"
)

const (
	sourceURL = "http://116.67.84.152/ffas/gis/selectFireShowList.do"

	okPeriod   = 3 * time.Minute
	failPeriod = time.Minute

	sentinel = `{"events":[],"size":0}`
)

// Fire progress status codes in the published artifact.
const (
	StatusFire         = 0
	StatusExtinguished = 1
	StatusClear        = 2
)

type event struct {
	Status    int     `json:"status"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
}

// Feed is the fire-event cache pipeline.
type Feed struct {
	slot    *feedcache.Slot
	fetcher func(url string) (string, error)
}

// New creates the feed with an empty slot.
func New() *Feed {
	return &Feed{
		slot:    feedcache.NewSlot(""),
		fetcher: fetch.Text,
	}
}

// Artifact returns the current published artifact.
func (f *Feed) Artifact() string {
	return f.slot.Get()
}

// Register performs the initial fetch and adds the periodic job.
func (f *Feed) Register(b *scheduler.Builder) {
	delay := failPeriod
	if data, err := f.build(); err != nil {
		logging.Op().Warn("fail to init fire events", "error", err)
		f.slot.Set(sentinel)
	} else {
		f.slot.Set(data)
		metrics.RecordPublish("fire_event")
		delay = okPeriod
	}
	b.AddTask(scheduler.NewTask(f.job, delay))
}

func (f *Feed) job() time.Duration {
	logging.Op().Info("start job", "feed", "fire_event")
	start := time.Now()

	data, err := f.build()
	if err != nil {
		logging.Op().Warn("fail to get fire event", "error", err)
		metrics.RecordJobRun("fire_event", false, time.Since(start))
		return failPeriod
	}

	f.slot.Set(data)
	metrics.RecordPublish("fire_event")
	metrics.RecordJobRun("fire_event", true, time.Since(start))
	return okPeriod
}

func (f *Feed) build() (string, error) {
	body, err := f.fetcher(sourceURL)
	if err != nil {
		return "", err
	}

	events, err := parseEvents(body)
	if err != nil {
		return "", err
	}

	artifact, err := json.Marshal(struct {
		Events []event `json:"events"`
		Size   int     `json:"size"`
	}{events, len(events)})
	if err != nil {
		return "", err
	}
	return string(artifact), nil
}

// parseEvents reads the upstream's array-of-arrays body and converts the
// first inner array. Events with missing fields or integer-looking
// coordinates (degenerate rows the upstream emits for manual entries) are
// dropped.
func parseEvents(body string) ([]event, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal([]byte(body), &outer); err != nil {
		return nil, err
	}
	if len(outer) == 0 {
		return nil, fmt.Errorf("invalid fire event data")
	}

	var raw []map[string]any
	if err := json.Unmarshal(outer[0], &raw); err != nil {
		return nil, fmt.Errorf("invalid fire event data: %w", err)
	}

	events := make([]event, 0, len(raw))
	for _, evt := range raw {
		status, okStatus := stringField(evt, "frfrPrgrsStcd")
		latStr, okLat := stringField(evt, "frfrSttmnLctnYcrd")
		lonStr, okLon := stringField(evt, "frfrSttmnLctnXcrd")
		address, okAddr := stringField(evt, "frfrSttmnAddr")
		date, okDate := stringField(evt, "frfrSttmnDt")
		clock, okTime := stringField(evt, "frfrSttmnHms")
		if !okStatus || !okLat || !okLon || !okAddr || !okDate || !okTime {
			continue
		}

		if !strings.Contains(latStr, ".") || !strings.Contains(lonStr, ".") {
			continue
		}
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lon, lonErr := strconv.ParseFloat(lonStr, 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		events = append(events, event{
			Status:    statusCode(status),
			Latitude:  lat,
			Longitude: lon,
			Address:   address,
			Date:      date,
			Time:      clock,
		})
	}

	return events, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func statusCode(code string) int {
	switch code {
	case "01", "02":
		return StatusFire
	case "05":
		return StatusClear
	default:
		return StatusExtinguished
	}
}
