// Package cctv publishes roadside CCTV locations from the Korean ITS open
// API. Two sources (expressway and national road) are merged; either one
// succeeding is enough to publish. Besides the map artifact, a name-keyed
// index serves single-camera lookups.
package cctv

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/fetch"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/scheduler"
)

const (
	baseURL = "https://openapi.its.go.kr:9443/cctvInfo"
	period  = time.Minute

	sentinel = `{"cctvs":[],"size":0}`
)

// Camera is one CCTV record.
type Camera struct {
	URL       string  `json:"url"`
	Latitude  float32 `json:"latitude"`
	Longitude float32 `json:"longitude"`
	Name      string  `json:"name"`
}

func (c *Camera) valid() bool {
	return c.URL != "" &&
		c.Latitude > 20 && c.Latitude < 50 &&
		c.Longitude > 110 && c.Longitude < 160 &&
		c.Name != ""
}

// Feed is the CCTV cache pipeline.
type Feed struct {
	apiKey  string
	slot    *feedcache.Slot
	fetcher func(url string) (string, error)

	mu    sync.RWMutex
	index map[string]Camera
}

// New creates the feed. The API key comes from the CCTV_KEY setting.
func New(apiKey string) *Feed {
	return &Feed{
		apiKey:  apiKey,
		slot:    feedcache.NewSlot(""),
		fetcher: fetch.Text,
		index:   make(map[string]Camera),
	}
}

// Artifact returns the current published map artifact.
func (f *Feed) Artifact() string {
	return f.slot.Get()
}

// Lookup returns the serialized record for a camera name.
func (f *Feed) Lookup(name string) (string, bool) {
	f.mu.RLock()
	camera, ok := f.index[name]
	f.mu.RUnlock()
	if !ok {
		return "", false
	}

	data, err := json.Marshal(camera)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Register performs the initial fetch and adds the periodic job.
func (f *Feed) Register(b *scheduler.Builder) {
	if cameras, err := f.collect(); err != nil {
		logging.Op().Warn("fail to init CCTV cache", "error", err)
		f.slot.Set(sentinel)
	} else {
		f.publish(cameras)
	}
	b.AddTask(scheduler.NewTask(f.job, period))
}

func (f *Feed) job() time.Duration {
	logging.Op().Info("start job", "feed", "cctv")
	start := time.Now()

	cameras, err := f.collect()
	if err != nil {
		logging.Op().Warn("fail to get CCTV data", "error", err)
		metrics.RecordJobRun("cctv", false, time.Since(start))
		return period
	}

	f.publish(cameras)
	metrics.RecordJobRun("cctv", true, time.Since(start))
	return period
}

// publish swaps the map artifact and upserts the name index. Index entries
// are never bulk-cleared, so a camera that drops out of one refresh stays
// resolvable by name.
func (f *Feed) publish(cameras []Camera) {
	f.slot.Set(stringify(cameras))
	metrics.RecordPublish("cctv")

	f.mu.Lock()
	for _, camera := range cameras {
		f.index[camera.Name] = camera
	}
	f.mu.Unlock()
}

func (f *Feed) sourceURL(kind string) string {
	args := fmt.Sprintf("apiKey=%s&getType=xml&cctvType=2&minX=120&maxX=150&minY=30&maxY=40&type=%s",
		f.apiKey, kind)
	return baseURL + "?" + args
}

// collect fetches both XML sources. One failing is tolerated with a
// warning; both failing, or a parse failure, fails the job.
func (f *Feed) collect() ([]Camera, error) {
	exBody, exErr := f.fetcher(f.sourceURL("ex"))
	itsBody, itsErr := f.fetcher(f.sourceURL("its"))

	switch {
	case exErr == nil && itsErr == nil:
		ex, err := parseXML(exBody)
		if err != nil {
			return nil, err
		}
		its, err := parseXML(itsBody)
		if err != nil {
			return nil, err
		}
		return append(its, ex...), nil
	case exErr == nil:
		logging.Op().Warn("fail to get ITS source", "error", itsErr)
		return parseXML(exBody)
	case itsErr == nil:
		logging.Op().Warn("fail to get EX source", "error", exErr)
		return parseXML(itsBody)
	default:
		return nil, exErr
	}
}

func stringify(cameras []Camera) string {
	type mapEntry struct {
		Latitude  float32 `json:"latitude"`
		Longitude float32 `json:"longitude"`
		Name      string  `json:"name"`
	}

	entries := make([]mapEntry, 0, len(cameras))
	for _, c := range cameras {
		entries = append(entries, mapEntry{c.Latitude, c.Longitude, c.Name})
	}

	data, err := json.Marshal(struct {
		Cctvs []mapEntry `json:"cctvs"`
		Size  int        `json:"size"`
	}{entries, len(entries)})
	if err != nil {
		return sentinel
	}
	return string(data)
}

// parseXML walks the token stream tracking the current element name and
// accumulating one record per <data> element. Records that fail validation
// are dropped silently; the upstream emits plenty of half-filled entries.
func parseXML(body string) ([]Camera, error) {
	decoder := xml.NewDecoder(strings.NewReader(body))

	var cameras []Camera
	var current string
	var data Camera

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.EndElement:
			if t.Name.Local == "data" {
				if data.valid() {
					cameras = append(cameras, data)
				}
				data = Camera{}
			}
			current = ""
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch current {
			case "cctvurl":
				data.URL = rewriteURL(text)
			case "coordy":
				if v, err := strconv.ParseFloat(text, 32); err == nil {
					data.Latitude = float32(v)
				}
			case "coordx":
				if v, err := strconv.ParseFloat(text, 32); err == nil {
					data.Longitude = float32(v)
				}
			case "cctvname":
				data.Name = text
			}
		}
	}

	return cameras, nil
}

// rewriteURL upgrades plain-HTTP stream URLs; mixed content is blocked by
// browsers on the HTTPS frontend.
func rewriteURL(url string) string {
	return strings.Replace(url, "http://", "https://", 1)
}
