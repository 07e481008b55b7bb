package processor

import (
	"math"
)

// pixelSnapTol absorbs floating point noise when a coordinate lands on a
// pixel boundary, e.g. 29.999999999999996 / 1.0 must floor to 30.
const pixelSnapTol = 1e-9

func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) <= pixelSnapTol*math.Max(1, math.Abs(v)) {
		return r
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FullWindow covers the whole raster.
func FullWindow(desc RasterDescriptor) PixelWindow {
	return PixelWindow{OffX: 0, OffY: 0, Width: desc.Width, Height: desc.Height}
}

// ResolveWindow maps bbox onto the pixel grid of a raster with envelope
// rasterEnv and resolution resX/resY. The box is cropped to the raster
// first, so requests reaching outside the dataset are never an error. The
// window always covers at least one pixel and always lies inside the
// raster: a box that misses the raster collapses to a 1x1 window on the
// nearest raster edge.
func ResolveWindow(rasterEnv Envelope, resX, resY float64, bbox Envelope) PixelWindow {
	absResY := math.Abs(resY)

	cols := int(math.Max(1, math.Ceil(snap(rasterEnv.Width()/resX))))
	rows := int(math.Max(1, math.Ceil(snap(rasterEnv.Height()/absResY))))

	minX := clampFloat(bbox.MinX, rasterEnv.MinX, rasterEnv.MaxX)
	maxX := clampFloat(bbox.MaxX, rasterEnv.MinX, rasterEnv.MaxX)
	minY := clampFloat(bbox.MinY, rasterEnv.MinY, rasterEnv.MaxY)
	maxY := clampFloat(bbox.MaxY, rasterEnv.MinY, rasterEnv.MaxY)

	offX := int(math.Floor(snap((minX - rasterEnv.MinX) / resX)))
	offY := int(math.Floor(snap(math.Abs(maxY-rasterEnv.MaxY) / absResY)))
	offX = clampInt(offX, 0, cols-1)
	offY = clampInt(offY, 0, rows-1)

	// Measuring the far edge from the raster origin rather than from the
	// box's own near edge keeps a box that starts mid-pixel fully covered.
	right := int(math.Ceil(snap((maxX - rasterEnv.MinX) / resX)))
	bottom := int(math.Ceil(snap(math.Abs(rasterEnv.MaxY-minY) / absResY)))

	width := clampInt(right-offX, 1, cols-offX)
	height := clampInt(bottom-offY, 1, rows-offY)

	return PixelWindow{OffX: offX, OffY: offY, Width: width, Height: height}
}

// ProjectEnvelope is the inverse of ResolveWindow for an already resolved
// window: it returns the extent the window's pixels actually cover.
func ProjectEnvelope(rasterEnv Envelope, resX, resY float64, win PixelWindow) Envelope {
	minX := rasterEnv.MinX + float64(win.OffX)*resX
	maxX := minX + float64(win.Width)*resX
	maxY := rasterEnv.MaxY - math.Abs(float64(win.OffY)*resY)
	minY := maxY - math.Abs(float64(win.Height)*resY)
	return Envelope{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}
