package processor

import (
	"math"
	"math/rand"
	"testing"
)

const envTol = 1e-6

func envContains(outer, inner Envelope) bool {
	return outer.MinX <= inner.MinX+envTol && outer.MinY <= inner.MinY+envTol &&
		outer.MaxX >= inner.MaxX-envTol && outer.MaxY >= inner.MaxY-envTol
}

func testDescriptors(t *testing.T) []RasterDescriptor {
	geots := []struct {
		geot          []float64
		width, height int
	}{
		{[]float64{0, 1, 0, 100, 0, -1}, 100, 100},
		{[]float64{130.5, 0.25, 0, -20.25, 0, -0.25}, 400, 300},
		{[]float64{-180, 0.1, 0, 90, 0, -0.1}, 3600, 1800},
		{[]float64{500000, 30, 0, 7000000, 0, -30}, 257, 311},
	}
	var descs []RasterDescriptor
	for _, g := range geots {
		desc, err := NewRasterDescriptor(g.geot, g.width, g.height, 1, Float32, "")
		if err != nil {
			t.Fatalf("descriptor %v: %v", g.geot, err)
		}
		descs = append(descs, desc)
	}
	return descs
}

func TestResolveWindowScenario(t *testing.T) {
	env := Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	bbox := Envelope{MinX: 10, MinY: 10, MaxX: 20, MaxY: 30}

	win := ResolveWindow(env, 1, -1, bbox)
	expected := PixelWindow{OffX: 10, OffY: 70, Width: 10, Height: 20}
	if win != expected {
		t.Errorf("expected window %v, actual %v", expected, win)
	}

	ext := ProjectEnvelope(env, 1, -1, win)
	if ext != bbox {
		t.Errorf("expected extent %v, actual %v", bbox, ext)
	}
}

func TestResolveWindowMidPixel(t *testing.T) {
	env := Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

	tests := []struct {
		bbox     Envelope
		expected PixelWindow
	}{
		{Envelope{MinX: 10.5, MinY: 10, MaxX: 20.5, MaxY: 30}, PixelWindow{OffX: 10, OffY: 70, Width: 11, Height: 20}},
		{Envelope{MinX: 10.5, MinY: 10.5, MaxX: 19.5, MaxY: 29.5}, PixelWindow{OffX: 10, OffY: 70, Width: 10, Height: 20}},
		{Envelope{MinX: 99.5, MinY: 0, MaxX: 100, MaxY: 0.5}, PixelWindow{OffX: 99, OffY: 99, Width: 1, Height: 1}},
	}
	for _, tc := range tests {
		win := ResolveWindow(env, 1, -1, tc.bbox)
		if win != tc.expected {
			t.Errorf("%v: expected window %v, actual %v", tc.bbox, tc.expected, win)
		}
		if ext := ProjectEnvelope(env, 1, -1, win); !envContains(ext, tc.bbox) {
			t.Errorf("%v: extent %v does not contain the box", tc.bbox, ext)
		}
	}
}

func TestResolveWindowFullEnvelope(t *testing.T) {
	for _, desc := range testDescriptors(t) {
		env := desc.Envelope()
		win := ResolveWindow(env, desc.ResX, desc.ResY, env)
		if win != FullWindow(desc) {
			t.Errorf("%v: expected full window %v, actual %v", env, FullWindow(desc), win)
		}
		if win != (PixelWindow{0, 0, desc.Width, desc.Height}) {
			t.Errorf("%v: full window is %v", env, win)
		}
	}
}

func TestResolveWindowOutsideRaster(t *testing.T) {
	env := Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

	win := ResolveWindow(env, 1, -1, Envelope{MinX: 200, MinY: 200, MaxX: 300, MaxY: 300})
	if win != (PixelWindow{OffX: 99, OffY: 0, Width: 1, Height: 1}) {
		t.Errorf("upper right miss: unexpected window %v", win)
	}

	win = ResolveWindow(env, 1, -1, Envelope{MinX: -50, MinY: -50, MaxX: -10, MaxY: -10})
	if win != (PixelWindow{OffX: 0, OffY: 99, Width: 1, Height: 1}) {
		t.Errorf("lower left miss: unexpected window %v", win)
	}

	win = ResolveWindow(env, 1, -1, Envelope{MinX: -50, MinY: 40, MaxX: -10, MaxY: 60})
	if win.Width != 1 || win.OffX != 0 || win.Height < 1 {
		t.Errorf("left miss: unexpected window %v", win)
	}
}

func TestResolveWindowDegenerate(t *testing.T) {
	env := Envelope{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

	win := ResolveWindow(env, 1, -1, Envelope{MinX: 10.5, MinY: 10.5, MaxX: 10.5, MaxY: 10.5})
	if win != (PixelWindow{OffX: 10, OffY: 89, Width: 1, Height: 1}) {
		t.Errorf("point box: unexpected window %v", win)
	}

	win = ResolveWindow(env, 1, -1, Envelope{MinX: 10.2, MinY: 10.2, MaxX: 10.7, MaxY: 10.7})
	if win != (PixelWindow{OffX: 10, OffY: 89, Width: 1, Height: 1}) {
		t.Errorf("sub-pixel box: unexpected window %v", win)
	}
}

func TestResolveProjectContainment(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for _, desc := range testDescriptors(t) {
		env := desc.Envelope()
		span := func(lo, hi float64) float64 {
			pad := (hi - lo) * 0.2
			return lo - pad + rnd.Float64()*(hi-lo+2*pad)
		}

		checked := 0
		for checked < 500 {
			x0, x1 := span(env.MinX, env.MaxX), span(env.MinX, env.MaxX)
			y0, y1 := span(env.MinY, env.MaxY), span(env.MinY, env.MaxY)
			bbox := Envelope{MinX: math.Min(x0, x1), MinY: math.Min(y0, y1), MaxX: math.Max(x0, x1), MaxY: math.Max(y0, y1)}
			if !env.Intersects(bbox) {
				continue
			}
			checked++

			win := ResolveWindow(env, desc.ResX, desc.ResY, bbox)
			if win.Width < 1 || win.Height < 1 || win.OffX < 0 || win.OffY < 0 ||
				win.OffX+win.Width > desc.Width || win.OffY+win.Height > desc.Height {
				t.Fatalf("bbox %v: window %v outside raster %dx%d", bbox, win, desc.Width, desc.Height)
			}

			ext := ProjectEnvelope(env, desc.ResX, desc.ResY, win)
			if !envContains(env, ext) {
				t.Fatalf("bbox %v: projected extent %v not within raster %v", bbox, ext, env)
			}
			if clipped := env.Clamp(bbox); !envContains(ext, clipped) {
				t.Fatalf("bbox %v: projected extent %v does not cover clipped box %v", bbox, ext, clipped)
			}
		}
	}
}

func TestRasterDescriptorValidate(t *testing.T) {
	if _, err := NewRasterDescriptor([]float64{0, 1, 0.5, 0, 0, -1}, 10, 10, 1, Byte, ""); err == nil {
		t.Errorf("rotated geotransform accepted")
	}
	if _, err := NewRasterDescriptor([]float64{0, 0, 0, 0, 0, -1}, 10, 10, 1, Byte, ""); err == nil {
		t.Errorf("zero x resolution accepted")
	}
	if _, err := NewRasterDescriptor([]float64{0, 1, 0, 0, 0, 0}, 10, 10, 1, Byte, ""); err == nil {
		t.Errorf("zero y resolution accepted")
	}
	if _, err := NewRasterDescriptor([]float64{0, 1, 0, 0, 0, -1}, 10, 10, 0, Byte, ""); err == nil {
		t.Errorf("zero band count accepted")
	}
	if _, err := NewRasterDescriptor([]float64{0, 1, 0, 0, 0, -1}, 10, 10, 1, PixelType(42), ""); err == nil {
		t.Errorf("unknown pixel type accepted")
	}

	desc, err := NewRasterDescriptor([]float64{0, 1, 0, 100, 0, -1}, 100, 100, 3, UInt16, "EPSG:32633")
	if err != nil {
		t.Fatalf("valid descriptor rejected: %v", err)
	}
	if env := desc.Envelope(); env != (Envelope{0, 0, 100, 100}) {
		t.Errorf("unexpected envelope %v", env)
	}
}

func TestParsePixelType(t *testing.T) {
	for pt := Byte; pt <= Float64; pt++ {
		parsed, err := ParsePixelType(pt.String())
		if err != nil || parsed != pt {
			t.Errorf("%v: parsed as %v, %v", pt, parsed, err)
		}
	}
	if pt, err := ParsePixelType("uint16"); err != nil || pt != UInt16 {
		t.Errorf("case-insensitive lookup failed: %v, %v", pt, err)
	}
	if _, err := ParsePixelType("CFloat32"); err == nil {
		t.Errorf("complex type accepted")
	}
}
