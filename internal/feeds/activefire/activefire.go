// Package activefire publishes satellite active-fire detections from the
// NASA FIRMS MODIS and VIIRS CSV feeds, filtered to the Korean peninsula.
package activefire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/fetch"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/parse"
	"github.com/neurowhai/firemap/internal/scheduler"
)

const (
	modisURL = "https://firms.modaps.eosdis.nasa.gov/active_fire/c6/text/MODIS_C6_Russia_and_Asia_24h.csv"
	viirsURL = "https://firms.modaps.eosdis.nasa.gov/active_fire/viirs/text/VNP14IMGTDL_NRT_Russia_and_Asia_24h.csv"

	okPeriod   = 15 * time.Minute
	failPeriod = time.Minute

	sentinel = `{"fires":[],"size":0}`
)

// Detections outside this box are discarded.
const (
	minLat = 32.477024
	minLon = 123.825178
	maxLat = 39.322145
	maxLon = 132.799568
)

type record struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Brightness     float64 `json:"bright"`
	RadiativePower float64 `json:"power"`
	Time           int64   `json:"time"`
}

// Feed is the active-fire cache pipeline.
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

// Register performs the initial fetch (seeding the sentinel on failure) and
// adds the periodic job to the scheduler.
func (f *Feed) Register(b *scheduler.Builder) {
	delay := failPeriod
	if data, err := f.build(); err != nil {
		logging.Op().Warn("fail to init active fire cache", "error", err)
		f.slot.Set(sentinel)
	} else {
		f.slot.Set(data)
		metrics.RecordPublish("active_fire")
		delay = okPeriod
	}
	b.AddTask(scheduler.NewTask(f.job, delay))
}

func (f *Feed) job() time.Duration {
	logging.Op().Info("start job", "feed", "active_fire")
	start := time.Now()

	data, err := f.build()
	if err != nil {
		logging.Op().Warn("fail to get fire data", "error", err)
		metrics.RecordJobRun("active_fire", false, time.Since(start))
		return failPeriod
	}

	f.slot.Set(data)
	metrics.RecordPublish("active_fire")
	metrics.RecordJobRun("active_fire", true, time.Since(start))
	return okPeriod
}

// build fetches both satellite feeds and serializes the merged artifact.
// One feed failing is tolerated; both failing fails the job.
func (f *Feed) build() (string, error) {
	modis, modisErr := f.parseSource(modisURL)
	viirs, viirsErr := f.parseSource(viirsURL)

	var records []record
	switch {
	case modisErr == nil && viirsErr == nil:
		records = append(modis, viirs...)
	case modisErr != nil && viirsErr == nil:
		logging.Op().Warn("fail to parse MODIS", "error", modisErr)
		records = viirs
	case modisErr == nil:
		logging.Op().Warn("fail to parse VIIRS", "error", viirsErr)
		records = modis
	default:
		return "", modisErr
	}

	if records == nil {
		records = []record{}
	}

	artifact, err := json.Marshal(struct {
		Fires []record `json:"fires"`
		Size  int      `json:"size"`
	}{records, len(records)})
	if err != nil {
		return "", err
	}
	return string(artifact), nil
}

func (f *Feed) parseSource(url string) ([]record, error) {
	body, err := f.fetcher(url)
	if err != nil {
		return nil, err
	}
	return parseCSV(body), nil
}

// parseCSV extracts acceptable detections from a FIRMS CSV body. Columns:
// 0 lat, 1 lon, 2 brightness, 5 acq_date, 6 acq_time, 8 confidence, 11 frp.
func parseCSV(body string) []record {
	var records []record

	for _, row := range parse.CSVRows(body, 12) {
		if !acceptConfidence(row[8]) {
			continue
		}

		lat, latErr := strconv.ParseFloat(row[0], 64)
		lon, lonErr := strconv.ParseFloat(row[1], 64)
		bright, brightErr := strconv.ParseFloat(row[2], 64)
		power, powerErr := strconv.ParseFloat(row[11], 64)
		ts, tsErr := parseAcqTime(row[5], row[6])
		if latErr != nil || lonErr != nil || brightErr != nil || powerErr != nil || tsErr != nil {
			continue
		}

		if lat <= minLat || lon <= minLon || lat >= maxLat || lon >= maxLon {
			continue
		}

		records = append(records, record{
			Latitude:       lat,
			Longitude:      lon,
			Brightness:     bright,
			RadiativePower: power,
			Time:           ts,
		})
	}

	return records
}

func acceptConfidence(s string) bool {
	if s == "high" {
		return true
	}
	confidence, err := strconv.Atoi(s)
	return err == nil && confidence >= 70
}

// parseAcqTime combines acq_date and acq_time ("2020-01-02", "135") into a
// unix timestamp. The time column drops leading zeros upstream.
func parseAcqTime(date, clock string) (int64, error) {
	for len(clock) < 4 {
		clock = "0" + clock
	}
	t, err := time.Parse("2006-01-02 1504", fmt.Sprintf("%s %s", date, clock))
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
