package wind

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/neurowhai/firemap/internal/parse"
)

// Station is a fixed AWS weather station location.
type Station struct {
	Latitude  float64
	Longitude float64
}

// Reading is one station's wind vector for the current snapshot.
// The vector is (sin(dir)*vel, cos(dir)*vel): north-referenced compass
// bearing decomposed into map-east and map-north components.
type Reading struct {
	Latitude  float64
	Longitude float64
	WindX     float64
	WindY     float64
}

// loadStations reads data/stninfo.csv into a code-keyed location index.
// A row is skipped when the code (col 0) or coordinates (cols 5, 6) are
// empty, or when the decommission column (col 2) is set.
func loadStations(dataDir string) (map[string]Station, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, "stninfo.csv"))
	if err != nil {
		return nil, fmt.Errorf("read station info: %w", err)
	}

	stations := make(map[string]Station)
	for _, row := range parse.CSVRows(string(raw), 7) {
		if row[0] == "" || row[5] == "" || row[6] == "" || row[2] != "" {
			continue
		}

		lat, latErr := strconv.ParseFloat(row[5], 64)
		lon, lonErr := strconv.ParseFloat(row[6], 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		stations[row[0]] = Station{Latitude: lat, Longitude: lon}
	}

	return stations, nil
}

// parseReadings extracts wind readings from the AWS minutely report page.
// The data table is the one whose rows carry javascript click handlers; rows
// narrower than 17 cells are separators or headers. Columns: 0 station code,
// 14 wind direction (deg), 16 wind speed (m/s).
func parseReadings(html string, stations map[string]Station) []Reading {
	begin, end, ok := parse.FindRowsRange(html, "javascript")
	if !ok {
		return nil
	}

	var readings []Reading
	for _, row := range parse.TableRows(html, begin, end, 17) {
		station, known := stations[row[0]]
		if !known {
			continue
		}

		dir, dirErr := strconv.ParseFloat(row[14], 64)
		vel, velErr := strconv.ParseFloat(row[16], 64)
		if dirErr != nil || velErr != nil {
			continue
		}

		angle := dir * math.Pi / 180
		readings = append(readings, Reading{
			Latitude:  station.Latitude,
			Longitude: station.Longitude,
			WindX:     math.Sin(angle) * vel,
			WindY:     math.Cos(angle) * vel,
		})
	}

	return readings
}
