package wind

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"
)

// Grid frame in Web Mercator meters. The offsets pin the south-west corner of
// the raster over the Korean peninsula; one cell is gridResolution meters.
const (
	gridXOffset = 13955566.87619434
	gridYOffset = 3885936.2337022102
	gridXEnd    = 14493683.55532198
	gridYEnd    = 4734203.787602952

	gridResolution = 1024.0

	// Chebyshev radius, in cells, of the opacity stamp around a station.
	stationRange = 32

	earthRadius = 6378136.98

	idwPower = 1.5
)

var (
	gridWidth  = int(math.Floor((gridXEnd - gridXOffset) / gridResolution))
	gridHeight = int(math.Floor((gridYEnd - gridYOffset) / gridResolution))
)

// project converts WGS84 degrees to Web Mercator meters. Latitudes beyond the
// projection's validity band collapse to the pole lines instead of blowing up
// the tangent.
func project(longitude, latitude float64) (x, y float64) {
	x = earthRadius * longitude * math.Pi / 180

	if latitude > 86 {
		y = 2 * math.Pi * earthRadius
	} else if latitude < -86 {
		y = -2 * math.Pi * earthRadius
	} else {
		rad := latitude * math.Pi / 180
		y = earthRadius * math.Log(math.Tan(math.Pi/4+rad/2))
	}
	return x, y
}

type raster struct {
	png  []byte
	minX float64
	minY float64
	maxX float64
	maxY float64
}

// rasterize interpolates the station wind vectors over the grid and encodes
// the result as an RGBA PNG: R is the east component, G the north component,
// both normalized to the station min/max envelope. Alpha is opaque only
// within stationRange cells of some station, so sparsely covered regions
// render transparent instead of showing extrapolated values. Rows are
// y-inverted because image origin is top-left while the grid's is bottom-left.
func rasterize(readings []Reading) (raster, error) {
	if len(readings) == 0 {
		return raster{}, fmt.Errorf("no wind readings")
	}

	type gridPoint struct {
		x, y  float64
		windX float64
		windY float64
	}

	pixels := make([]uint8, gridWidth*gridHeight*4)
	points := make([]gridPoint, 0, len(readings))

	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)

	for _, r := range readings {
		minX = math.Min(minX, r.WindX)
		maxX = math.Max(maxX, r.WindX)
		minY = math.Min(minY, r.WindY)
		maxY = math.Max(maxY, r.WindY)

		mx, my := project(r.Longitude, r.Latitude)
		gx := (mx - gridXOffset) / gridResolution
		gy := (my - gridYOffset) / gridResolution
		points = append(points, gridPoint{x: gx, y: gy, windX: r.WindX, windY: r.WindY})

		for py := int(gy) - stationRange; py < int(gy)+stationRange; py++ {
			if py < 0 || py >= gridHeight {
				continue
			}
			row := (gridHeight - 1 - py) * gridWidth * 4
			for px := int(gx) - stationRange; px < int(gx)+stationRange; px++ {
				if px < 0 || px >= gridWidth {
					continue
				}
				pixels[row+px*4+3] = 255
			}
		}
	}

	termX := maxX - minX
	termY := maxY - minY

	for y := 0; y < gridHeight; y++ {
		index := (gridHeight - 1 - y) * gridWidth * 4
		for x := 0; x < gridWidth; x++ {
			fx, fy := float64(x), float64(y)

			var sumX, sumY, totalWeight float64
			for _, p := range points {
				dx := p.x - fx
				dy := p.y - fy
				d2 := dx*dx + dy*dy

				weight := 1.0
				if d2 >= 1 {
					weight = 1 / math.Pow(d2, idwPower)
				}
				sumX += p.windX * weight
				sumY += p.windY * weight
				totalWeight += weight
			}

			windX := math.Min(math.Max(sumX/totalWeight, minX), maxX)
			windY := math.Min(math.Max(sumY/totalWeight, minY), maxY)

			pixels[index] = normalize(windX, minX, termX)
			pixels[index+1] = normalize(windY, minY, termY)
			index += 4
		}
	}

	img := &image.RGBA{
		Pix:    pixels,
		Stride: gridWidth * 4,
		Rect:   image.Rect(0, 0, gridWidth, gridHeight),
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return raster{}, fmt.Errorf("encode wind raster: %w", err)
	}

	return raster{
		png:  buf.Bytes(),
		minX: minX,
		minY: minY,
		maxX: maxX,
		maxY: maxY,
	}, nil
}

// normalize maps value into the 0..255 channel range. A degenerate envelope
// (all stations report the same component) pins the channel at zero.
func normalize(value, min, term float64) uint8 {
	if term <= 0 {
		return 0
	}
	n := 255 * (value - min) / term
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}
