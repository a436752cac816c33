// Package dangerplace publishes the static danger-place overlay. The data
// ships with the server as a CSV seed file, so this is a one-shot load at
// startup with no scheduled job.
package dangerplace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/parse"
)

type place struct {
	Addr string  `json:"addr"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Type int     `json:"t"`
	Name string  `json:"name"`
}

// Feed holds the danger-place artifact.
type Feed struct {
	slot *feedcache.Slot
}

// Load reads data/danger_places.csv and builds the artifact. A missing or
// unreadable seed file is a startup error.
func Load(dataDir string) (*Feed, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, "danger_places.csv"))
	if err != nil {
		return nil, fmt.Errorf("read danger places: %w", err)
	}

	places := []place{}
	for _, row := range parse.CSVRows(string(raw), 5) {
		lat, _ := strconv.ParseFloat(row[1], 64)
		lon, _ := strconv.ParseFloat(row[2], 64)

		placeType := -1
		if t, err := strconv.Atoi(row[3]); err == nil {
			placeType = t
		}

		places = append(places, place{
			Addr: row[0],
			Lat:  lat,
			Lon:  lon,
			Type: placeType,
			Name: row[4],
		})
	}

	artifact, err := json.Marshal(struct {
		Places []place `json:"places"`
		Size   int     `json:"size"`
	}{places, len(places)})
	if err != nil {
		return nil, err
	}

	return &Feed{slot: feedcache.NewSlot(string(artifact))}, nil
}

// Artifact returns the published artifact.
func (f *Feed) Artifact() string {
	return f.slot.Get()
}
