package wind

import (
	"bytes"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
)

func TestProject(t *testing.T) {
	x, y := project(0, 0)
	if x != 0 || math.Abs(y) > 1e-6 {
		t.Fatalf("origin should project to (0,0), got (%v,%v)", x, y)
	}

	// Beyond the projection's validity band the y coordinate pins to the
	// pole lines instead of diverging.
	if _, y := project(0, 87); y != 2*math.Pi*earthRadius {
		t.Fatalf("north pole line: got %v", y)
	}
	if _, y := project(0, -87); y != -2*math.Pi*earthRadius {
		t.Fatalf("south pole line: got %v", y)
	}

	// Korea must land inside the grid frame.
	x, y = project(128, 36)
	if x < gridXOffset || x > gridXEnd || y < gridYOffset || y > gridYEnd {
		t.Fatalf("(128,36) projects outside the grid: (%v,%v)", x, y)
	}
}

func TestLoadStations(t *testing.T) {
	dir := t.TempDir()
	csv := strings.Join([]string{
		"code,start,end,height,name,lat,lon",
		"100,20000101,,10,서울,37.5714,126.9658",
		"101,20000101,20190101,10,철거,36.0,127.0",
		"102,20000101,,10,무좌표,,",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "stninfo.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	stations, err := loadStations(dir)
	if err != nil {
		t.Fatalf("loadStations failed: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("expected 1 station, got %d", len(stations))
	}
	if s := stations["100"]; s.Latitude != 37.5714 || s.Longitude != 126.9658 {
		t.Fatalf("unexpected station: %+v", s)
	}
}

func TestLoadStationsMissingFile(t *testing.T) {
	if _, err := loadStations(t.TempDir()); err == nil {
		t.Fatal("expected error for missing station file")
	}
}

func awsRow(cells ...string) string {
	var b strings.Builder
	b.WriteString(`<tr onclick="javascript:view()">`)
	for _, c := range cells {
		b.WriteString("<td>" + c + "</td>")
	}
	b.WriteString("</tr>")
	return b.String()
}

func awsPage(rows ...string) string {
	return "<table class=\"obs\">" + strings.Join(rows, "\n") + "</table>"
}

func fullRow(code, dir, vel string) string {
	cells := make([]string, 17)
	for i := range cells {
		cells[i] = "-"
	}
	cells[0] = code
	cells[14] = dir
	cells[16] = vel
	return awsRow(cells...)
}

func TestParseReadings(t *testing.T) {
	stations := map[string]Station{
		"100": {Latitude: 37.5, Longitude: 127.0},
	}
	page := awsPage(
		fullRow("100", "90", "2"),
		fullRow("999", "180", "3"),     // unknown station
		fullRow("100", "bogus", "3"),   // unparseable direction
		awsRow("100", "90", "2"),       // too few cells
	)

	readings := parseReadings(page, stations)
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(readings))
	}

	r := readings[0]
	if r.Latitude != 37.5 || r.Longitude != 127.0 {
		t.Fatalf("unexpected location: %+v", r)
	}
	// Bearing 90° at 2 m/s points due east.
	if math.Abs(r.WindX-2) > 1e-9 || math.Abs(r.WindY) > 1e-9 {
		t.Fatalf("unexpected wind vector: (%v,%v)", r.WindX, r.WindY)
	}
}

func TestParseReadingsNoTable(t *testing.T) {
	if got := parseReadings("<p>maintenance</p>", nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestRasterizeEmpty(t *testing.T) {
	if _, err := rasterize(nil); err == nil {
		t.Fatal("expected error for zero readings")
	}
}

func TestRasterize(t *testing.T) {
	readings := []Reading{
		{Latitude: 36.0, Longitude: 128.0, WindX: -1, WindY: 0},
		{Latitude: 37.5, Longitude: 127.0, WindX: 1, WindY: 3},
	}

	r, err := rasterize(readings)
	if err != nil {
		t.Fatalf("rasterize failed: %v", err)
	}
	if r.minX != -1 || r.maxX != 1 || r.minY != 0 || r.maxY != 3 {
		t.Fatalf("unexpected envelope: %+v", r)
	}

	img, err := png.Decode(bytes.NewReader(r.png))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != gridWidth || bounds.Dy() != gridHeight {
		t.Fatalf("raster is %dx%d, want %dx%d",
			bounds.Dx(), bounds.Dy(), gridWidth, gridHeight)
	}

	// Pixels within the station range are opaque; the top-left corner of
	// the grid has no station anywhere near it and stays transparent.
	mx, my := project(readings[0].Longitude, readings[0].Latitude)
	gx := int((mx - gridXOffset) / gridResolution)
	gy := int((my - gridYOffset) / gridResolution)

	_, _, _, a := img.At(gx, gridHeight-1-gy).RGBA()
	if a == 0 {
		t.Fatal("station pixel should be opaque")
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Fatal("uncovered pixel should be transparent")
	}

	// At a station the interpolation is dominated by that station's own
	// vector, so the channels sit near the normalized endpoints.
	red, _, _, _ := img.At(gx, gridHeight-1-gy).RGBA()
	if red>>8 > 40 {
		t.Fatalf("west-wind station should be near the low end, got %d", red>>8)
	}

	mx, my = project(readings[1].Longitude, readings[1].Latitude)
	gx = int((mx - gridXOffset) / gridResolution)
	gy = int((my - gridYOffset) / gridResolution)
	red, green, _, _ := img.At(gx, gridHeight-1-gy).RGBA()
	if red>>8 < 215 || green>>8 < 215 {
		t.Fatalf("east-wind station should be near the high end, got (%d,%d)",
			red>>8, green>>8)
	}
}

func TestNormalizeDegenerateEnvelope(t *testing.T) {
	if normalize(5, 5, 0) != 0 {
		t.Fatal("degenerate envelope should pin the channel at zero")
	}
}

func TestPublishRetention(t *testing.T) {
	f := &Feed{images: make(map[uint64][]byte)}

	f.publish(0, []byte("a"))
	f.publish(3599, []byte("b"))
	if _, ok := f.Image(0); !ok {
		t.Fatal("image inside the retention window should survive")
	}

	f.publish(3600, []byte("c"))
	if _, ok := f.Image(0); ok {
		t.Fatal("expired image should be pruned")
	}
	if _, ok := f.Image(3599); !ok {
		t.Fatal("fresh image should survive")
	}
}

func TestBuildNoReadings(t *testing.T) {
	epoch := time.Now()
	f := &Feed{
		stations: map[string]Station{},
		slot:     feedcache.NewSlot(""),
		fetcher: func(url string) (string, error) {
			return "<p>empty</p>", nil
		},
		images: make(map[uint64][]byte),
		epoch:  epoch,
		now:    func() time.Time { return epoch.Add(7 * time.Second) },
	}

	if err := f.build(); err != nil {
		t.Fatalf("an empty snapshot is not an upstream failure: %v", err)
	}
	if !strings.Contains(f.Metadata(), `"error":true`) {
		t.Fatalf("expected error metadata, got %s", f.Metadata())
	}
	if !strings.Contains(f.Metadata(), `"id":7`) {
		t.Fatalf("expected id from the process clock, got %s", f.Metadata())
	}

	img, ok := f.Image(7)
	if !ok {
		t.Fatal("the id should still be published")
	}
	if len(img) != 0 {
		t.Fatal("empty snapshot should publish empty bytes")
	}
}
