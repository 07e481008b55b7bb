package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memSource serves Byte bands whose sample at (x, y) of band b is
// fill + b*100 + y, truncated to a byte.
type memSource struct {
	desc      RasterDescriptor
	fill      int
	shortBand int
	closed    *counter
}

type counter struct {
	sync.Mutex
	n int
}

func (c *counter) inc() {
	c.Lock()
	c.n++
	c.Unlock()
}

func (c *counter) get() int {
	c.Lock()
	defer c.Unlock()
	return c.n
}

func (s *memSource) Descriptor() RasterDescriptor { return s.desc }

func (s *memSource) ReadBand(win PixelWindow, band int) ([]byte, error) {
	raw := make([]byte, 0, win.Size())
	for y := win.OffY; y < win.OffY+win.Height; y++ {
		for x := win.OffX; x < win.OffX+win.Width; x++ {
			raw = append(raw, byte(s.fill+band*100+y))
		}
	}
	if band == s.shortBand {
		raw = raw[:len(raw)-1]
	}
	return raw, nil
}

func (s *memSource) Close() error {
	s.closed.inc()
	return nil
}

type memOpener struct {
	desc      RasterDescriptor
	fills     map[string]int
	shortBand int
	opened    counter
	closed    counter
}

func newMemOpener(t *testing.T) *memOpener {
	desc, err := NewRasterDescriptor([]float64{0, 1, 0, 100, 0, -1}, 100, 100, 3, Byte, "EPSG:32633")
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return &memOpener{
		desc:      desc,
		fills:     map[string]int{"default": 0, "/grass/loc/PERMANENT/cellhd/a": 10, "/grass/loc/PERMANENT/cellhd/b": 20},
		shortBand: -1,
	}
}

func (o *memOpener) Open(ctx context.Context, path string) (BandSource, error) {
	fill, found := o.fills[path]
	if !found {
		return nil, fmt.Errorf("no such file %s", path)
	}
	o.opened.inc()
	return &memSource{desc: o.desc, fill: fill, shortBand: o.shortBand, closed: &o.closed}, nil
}

func openTestDataset(t *testing.T, opener *memOpener, catalog *Catalog) *Dataset {
	ds, err := OpenDataset(context.Background(), DatasetOptions{
		Name:        "temperature",
		DefaultFile: "default",
		Catalog:     catalog,
		Opener:      opener,
	})
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	return ds
}

func TestDatasetReadBBox(t *testing.T) {
	opener := newMemOpener(t)
	ds := openTestDataset(t, opener, nil)

	bbox := Envelope{MinX: 10, MinY: 10, MaxX: 20, MaxY: 30}
	res, err := ds.Read(context.Background(), ReadRequest{BBox: &bbox})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Window != (PixelWindow{OffX: 10, OffY: 70, Width: 10, Height: 20}) {
		t.Errorf("unexpected window %v", res.Window)
	}
	if res.Extent != bbox {
		t.Errorf("unexpected extent %v", res.Extent)
	}
	if len(res.Bands) != 3 {
		t.Fatalf("expected 3 bands, got %d", len(res.Bands))
	}
	if v := res.Bands[1].Float64At(0); v != 170 {
		t.Errorf("band 1 first sample expected 170, actual %v", v)
	}
	if res.DecodedBytes() != 3*200 {
		t.Errorf("unexpected decoded size %d", res.DecodedBytes())
	}
	if opener.opened.get() != opener.closed.get() {
		t.Errorf("opened %d sources, closed %d", opener.opened.get(), opener.closed.get())
	}
}

func TestDatasetReadFullRaster(t *testing.T) {
	ds := openTestDataset(t, newMemOpener(t), nil)

	res, err := ds.Read(context.Background(), ReadRequest{Bands: []int{2}})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Window != (PixelWindow{0, 0, 100, 100}) {
		t.Errorf("unexpected window %v", res.Window)
	}
	if res.Extent != (Envelope{0, 0, 100, 100}) {
		t.Errorf("unexpected extent %v", res.Extent)
	}
	if len(res.Bands) != 1 || res.Bands[0].Float64At(0) != 200 {
		t.Errorf("band subset not honoured")
	}
}

func TestDatasetReadInstant(t *testing.T) {
	ds := openTestDataset(t, newMemOpener(t), testCatalog())

	instant := day("2020-08-15")
	res, err := ds.Read(context.Background(), ReadRequest{Series: "temperature", Instant: &instant, Bands: []int{0}})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.FileRef != "/grass/loc/PERMANENT/cellhd/b" || res.Bands[0].Float64At(0) != 20 {
		t.Errorf("expected slice b, read %s", res.FileRef)
	}

	missing := day("2030-01-01")
	res, err = ds.Read(context.Background(), ReadRequest{Instant: &missing, Bands: []int{0}})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.FileRef != "default" {
		t.Errorf("expected fallback to the default file, read %s", res.FileRef)
	}

	if _, err := ds.Read(context.Background(), ReadRequest{Series: "wind", Instant: &instant}); !errors.Is(err, ErrUnknownSeries) {
		t.Errorf("expected ErrUnknownSeries, got %v", err)
	}
}

func TestDatasetReadBandIndex(t *testing.T) {
	opener := newMemOpener(t)
	ds := openTestDataset(t, opener, nil)

	if _, err := ds.Read(context.Background(), ReadRequest{Bands: []int{0, 3}}); !errors.Is(err, ErrBandIndex) {
		t.Errorf("expected ErrBandIndex, got %v", err)
	}
	if opener.opened.get() != opener.closed.get() {
		t.Errorf("source left open after a band index error")
	}
}

func TestDatasetReadPartialResult(t *testing.T) {
	opener := newMemOpener(t)
	opener.shortBand = 1
	ds := openTestDataset(t, opener, nil)

	res, err := ds.Read(context.Background(), ReadRequest{})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	var bandErr *BandError
	if !errors.As(err, &bandErr) || bandErr.Band != 1 {
		t.Errorf("expected a band 1 error, got %v", err)
	}
	if res == nil || len(res.Bands) != 1 || res.Bands[0].Float64At(0) != 0 {
		t.Errorf("band decoded before the failure was not kept")
	}
	if opener.opened.get() != opener.closed.get() {
		t.Errorf("source left open after a decode failure")
	}
}

type sumEvaluator struct{}

func (sumEvaluator) Names() []string { return []string{"sum"} }

func (sumEvaluator) Evaluate(bands []DecodedBand) ([]*Float64Band, error) {
	w, h := bands[0].Size()
	out := &Float64Band{Data: make([]float64, bands[0].Len()), Width: w, Height: h}
	for _, b := range bands {
		for i := range out.Data {
			out.Data[i] += b.Float64At(i)
		}
	}
	return []*Float64Band{out}, nil
}

func TestDatasetReadExpressions(t *testing.T) {
	ds := openTestDataset(t, newMemOpener(t), nil)

	res, err := ds.Read(context.Background(), ReadRequest{Bands: []int{0, 1}, Expressions: sumEvaluator{}})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(res.Derived) != 1 || res.DerivedNames[0] != "sum" {
		t.Fatalf("expected one derived band named sum")
	}
	if v := res.Derived[0].Data[0]; v != 100 {
		t.Errorf("derived sample expected 100, actual %v", v)
	}
}

func TestDatasetDescribe(t *testing.T) {
	ds := openTestDataset(t, newMemOpener(t), nil)
	info := ds.Describe()
	if info.HasTime || info.TemporalDomain != "" {
		t.Errorf("dataset without catalog reports a time dimension")
	}
	if len(info.Series) != 1 || info.Series[0] != "temperature" {
		t.Errorf("expected the dataset name as single series, got %v", info.Series)
	}

	ds = openTestDataset(t, newMemOpener(t), testCatalog())
	info = ds.Describe()
	if !info.HasTime || info.TemporalDomain != "2020-01-01T00:00:00.000Z/2020-12-31T00:00:00.000Z" {
		t.Errorf("unexpected temporal domain %q", info.TemporalDomain)
	}
	if info.Slices != 2 || info.Envelope != (Envelope{0, 0, 100, 100}) {
		t.Errorf("unexpected description %+v", info)
	}
}

func TestOpenDatasetDefaultsToFirstSlice(t *testing.T) {
	ds, err := OpenDataset(context.Background(), DatasetOptions{Name: "t", Catalog: testCatalog(), Opener: newMemOpener(t)})
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	if ds.DefaultFile() != "/grass/loc/PERMANENT/cellhd/a" {
		t.Errorf("unexpected default file %s", ds.DefaultFile())
	}

	bad := RasterDescriptor{Width: 10, Height: 10, BandCount: 1, ResX: 1, ResY: 0, PixelType: Byte}
	_, err = OpenDataset(context.Background(), DatasetOptions{Name: "t", DefaultFile: "default", Descriptor: &bad, Opener: newMemOpener(t)})
	if !errors.Is(err, ErrInvalidDataset) {
		t.Errorf("expected ErrInvalidDataset, got %v", err)
	}
}

func TestDrill(t *testing.T) {
	opener := newMemOpener(t)
	ds := openTestDataset(t, opener, testCatalog())

	instants := []time.Time{day("2020-08-15"), day("2020-02-01"), day("2031-01-01"), day("2020-12-31")}
	results, err := Drill(context.Background(), ds, ReadRequest{Bands: []int{0}}, instants, 2)
	if err != nil {
		t.Fatalf("drill failed: %v", err)
	}

	expected := []string{"/grass/loc/PERMANENT/cellhd/b", "/grass/loc/PERMANENT/cellhd/a", "default", "/grass/loc/PERMANENT/cellhd/b"}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("instant %v: %v", r.Instant, r.Err)
			continue
		}
		if !r.Instant.Equal(instants[i]) || r.Result.FileRef != expected[i] {
			t.Errorf("result %d: instant %v read %s, expected %s", i, r.Instant, r.Result.FileRef, expected[i])
		}
	}
	if opener.opened.get() != opener.closed.get() {
		t.Errorf("opened %d sources, closed %d", opener.opened.get(), opener.closed.get())
	}
}

func TestDrillCancelled(t *testing.T) {
	ds := openTestDataset(t, newMemOpener(t), testCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Drill(ctx, ds, ReadRequest{}, []time.Time{day("2020-08-15"), day("2020-02-01")}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected a cancellation error, got %v", err)
	}
}
