package gdalprocess

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/nci/rastex/processor"
)

// writeEHdr writes a band sequential ESRI .hdr/.bil pair whose upper left
// pixel corner sits at (0, 100) with 1x1 pixels.
func writeEHdr(t *testing.T, nBits int, pixelType string, cols, rows int, bands ...interface{}) string {
	dir := t.TempDir()
	hdr := fmt.Sprintf("BYTEORDER I\nLAYOUT BSQ\nNROWS %d\nNCOLS %d\nNBANDS %d\nNBITS %d\nPIXELTYPE %s\nULXMAP 0.5\nULYMAP 99.5\nXDIM 1\nYDIM 1\n",
		rows, cols, len(bands), nBits, pixelType)
	if err := ioutil.WriteFile(filepath.Join(dir, "raster.hdr"), []byte(hdr), 0644); err != nil {
		t.Fatalf("writing header: %v", err)
	}

	buf := new(bytes.Buffer)
	for _, b := range bands {
		if err := binary.Write(buf, binary.LittleEndian, b); err != nil {
			t.Fatalf("encoding band: %v", err)
		}
	}
	path := filepath.Join(dir, "raster.bil")
	if err := ioutil.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing raster: %v", err)
	}
	return path
}

func requireEHdr(t *testing.T) {
	if !DriverAvailable("EHdr") {
		t.Skip("GDAL EHdr driver is unavailable. Skipping tests")
	}
}

func TestDriverAvailable(t *testing.T) {
	if DriverAvailable("NoSuchDriver") {
		t.Errorf("unknown driver reported available")
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := Probe(filepath.Join(t.TempDir(), "missing.tif")); err == nil {
		t.Errorf("probing a missing file succeeded")
	}
}

func TestOpenerInt16(t *testing.T) {
	requireEHdr(t)

	cols, rows := 4, 3
	band0 := make([]int16, cols*rows)
	band1 := make([]int16, cols*rows)
	for i := range band0 {
		band0[i] = int16(-i)
		band1[i] = int16(1000 - i)
	}
	path := writeEHdr(t, 16, "SIGNEDINT", cols, rows, band0, band1)

	desc, err := Probe(path)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	expected := processor.RasterDescriptor{Width: 4, Height: 3, BandCount: 2, OriginX: 0, OriginY: 100, ResX: 1, ResY: -1, PixelType: processor.Int16}
	desc.CRS = ""
	if desc != expected {
		t.Fatalf("unexpected descriptor %+v", desc)
	}

	ds, err := processor.OpenDataset(context.Background(), processor.DatasetOptions{
		Name:        "ehdr",
		DefaultFile: path,
		Opener:      NewOpener(nil, false),
	})
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}

	bbox := processor.Envelope{MinX: 1, MinY: 97, MaxX: 3, MaxY: 99}
	res, err := ds.Read(context.Background(), processor.ReadRequest{BBox: &bbox})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Window != (processor.PixelWindow{OffX: 1, OffY: 1, Width: 2, Height: 2}) {
		t.Errorf("unexpected window %v", res.Window)
	}

	want := [][]float64{{-5, -6, -9, -10}, {995, 994, 991, 990}}
	for b, values := range want {
		for i, v := range values {
			if got := res.Bands[b].Float64At(i); got != v {
				t.Errorf("band %d sample %d: expected %v, actual %v", b, i, v, got)
			}
		}
	}
}

func TestOpenerFloat32(t *testing.T) {
	requireEHdr(t)

	band := []float32{0.5, -1.25, 3, 1e30, -7.75, 2.5}
	path := writeEHdr(t, 32, "FLOAT", 3, 2, band)

	src, err := NewOpener(nil, false).Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer src.Close()

	if src.Descriptor().PixelType != processor.Float32 {
		t.Fatalf("unexpected pixel type %v", src.Descriptor().PixelType)
	}

	win := processor.PixelWindow{OffX: 0, OffY: 0, Width: 3, Height: 2}
	raw, err := src.ReadBand(win, 0)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	decoded, err := processor.DecodeBand(raw, win, processor.Float32)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for i, v := range band {
		if got := decoded.(*processor.Float32Band).Data[i]; got != v {
			t.Errorf("sample %d: expected %v, actual %v", i, v, got)
		}
	}

	if _, err := src.ReadBand(win, 1); !errors.Is(err, processor.ErrBandIndex) {
		t.Errorf("expected ErrBandIndex, got %v", err)
	}
}

func TestOpenerDriverFilter(t *testing.T) {
	requireEHdr(t)

	path := writeEHdr(t, 8, "UNSIGNEDINT", 2, 2, []uint8{1, 2, 3, 4})
	if _, err := NewOpener(nil, false, "GRASS").Open(context.Background(), path); !errors.Is(err, processor.ErrInvalidDataset) {
		t.Errorf("expected ErrInvalidDataset for a non GRASS file, got %v", err)
	}
}
