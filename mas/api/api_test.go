package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nci/gomemcache/memcache"
	"github.com/rs/zerolog"

	"github.com/nci/rastex/catalog"
	"github.com/nci/rastex/metrics"
	"github.com/nci/rastex/processor"
	"github.com/nci/rastex/utils"
)

type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (m *memCache) Get(key string) (*memcache.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, found := m.items[key]
	if !found {
		return nil, memcache.ErrCacheMiss
	}
	return &memcache.Item{Key: key, Value: val}, nil
}

func (m *memCache) Set(item *memcache.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Key] = item.Value
	return nil
}

func date(month time.Month, day int) time.Time {
	return time.Date(2020, month, day, 0, 0, 0, 0, time.UTC)
}

func newTestAPI(t *testing.T) (*api, *int) {
	config := &utils.Config{Datasets: []utils.DatasetConfig{
		{Name: "elevation", Path: "/data/dem.tif"},
		{Name: "tmean", CatalogDSN: "postgres://catalog", GrassLocation: "/grass/loc"},
		{Name: "broken", CatalogDSN: "postgres://missing", GrassLocation: "/grass/none"},
	}}

	loads := 0
	catalogs := func(ctx context.Context, cfg utils.DatasetConfig) (*processor.Catalog, error) {
		loads++
		if cfg.Name == "broken" {
			return nil, fmt.Errorf("%w in %s", catalog.ErrNoCatalog, cfg.GrassLocation)
		}
		return &processor.Catalog{
			Entries: []processor.SliceCatalogEntry{
				{SliceID: "a@PERMANENT", Start: date(1, 1), End: date(1, 31), FileRef: "/grass/loc/PERMANENT/cellhd/a"},
				{SliceID: "b@PERMANENT", Start: date(2, 1), End: date(2, 29), FileRef: "/grass/loc/PERMANENT/cellhd/b"},
				{SliceID: "c@PERMANENT", Start: date(1, 15), End: date(1, 20), FileRef: "/grass/loc/PERMANENT/cellhd/c"},
			},
			Series: map[string][]string{
				"tmean@PERMANENT": {"a", "b"},
				"tmax@PERMANENT":  {"c"},
			},
		}, nil
	}

	return &api{
		config:   utils.NewConfigHolder(config),
		catalogs: catalogs,
		provider: metrics.NewProvider(),
		log:      zerolog.Nop(),
	}, &loads
}

func get(t *testing.T, h http.Handler, uri string, out interface{}) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, uri, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s: decoding %q: %v", uri, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestDatasets(t *testing.T) {
	a, _ := newTestAPI(t)

	var resp map[string][]string
	if code := get(t, a.routes(), "/datasets", &resp); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if strings.Join(resp["datasets"], ",") != "broken,elevation,tmean" {
		t.Errorf("unexpected datasets %v", resp["datasets"])
	}
}

func TestSeries(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()

	var resp seriesResponse
	if code := get(t, h, "/datasets/tmean/series", &resp); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if strings.Join(resp.Series, ",") != "tmax@PERMANENT,tmean@PERMANENT" {
		t.Errorf("unexpected series %v", resp.Series)
	}

	resp = seriesResponse{}
	get(t, h, "/datasets/elevation/series", &resp)
	if len(resp.Series) != 1 || resp.Series[0] != "elevation" {
		t.Errorf("a dataset without catalog should be its own series, got %v", resp.Series)
	}

	if code := get(t, h, "/datasets/missing/series", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown dataset, got %d", code)
	}
	if code := get(t, h, "/datasets/broken/series", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing catalog, got %d", code)
	}
}

func TestExtent(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()

	var resp extentResponse
	if code := get(t, h, "/datasets/tmean/extent", &resp); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if !resp.HasTime || resp.Slices != 3 {
		t.Errorf("unexpected extent %+v", resp)
	}
	if resp.TemporalDomain != "2020-01-01T00:00:00.000Z/2020-02-29T00:00:00.000Z" {
		t.Errorf("unexpected temporal domain %s", resp.TemporalDomain)
	}

	resp = extentResponse{}
	get(t, h, "/datasets/elevation/extent", &resp)
	if resp.HasTime || resp.TemporalDomain != "" {
		t.Errorf("a dataset without catalog has no time: %+v", resp)
	}
}

func TestSlices(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()

	tests := []struct {
		uri         string
		fileRef     string
		defaultFile bool
	}{
		{"/datasets/tmean/slices?series=tmean@PERMANENT&time=2020-02-10", "/grass/loc/PERMANENT/cellhd/b", false},
		{"/datasets/tmean/slices?series=tmean@PERMANENT&time=2020-01-17T00:00:00.000Z", "/grass/loc/PERMANENT/cellhd/a", false},
		{"/datasets/tmean/slices?time=2020-01-17", "/grass/loc/PERMANENT/cellhd/c", false},
		{"/datasets/tmean/slices?series=tmean@PERMANENT&time=2021-01-01", "/grass/loc/PERMANENT/cellhd/a", true},
		{"/datasets/elevation/slices?time=2020-01-01", "/data/dem.tif", true},
	}

	for _, tc := range tests {
		var resp slicesResponse
		if code := get(t, h, tc.uri, &resp); code != http.StatusOK {
			t.Errorf("%s: unexpected status %d", tc.uri, code)
			continue
		}
		if resp.FileRef != tc.fileRef || resp.Default != tc.defaultFile {
			t.Errorf("%s: expected %s (default %v), actual %s (default %v)", tc.uri, tc.fileRef, tc.defaultFile, resp.FileRef, resp.Default)
		}
	}

	var resp slicesResponse
	get(t, h, "/datasets/tmean/slices?series=tmean@PERMANENT", &resp)
	if len(resp.Slices) != 2 || resp.Slices[0].SliceID != "a@PERMANENT" || resp.Slices[1].SliceID != "b@PERMANENT" {
		t.Errorf("unexpected series slices %+v", resp.Slices)
	}

	if code := get(t, h, "/datasets/tmean/slices?series=wind", nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown series, got %d", code)
	}
	if code := get(t, h, "/datasets/tmean/slices?time=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an invalid time, got %d", code)
	}
}

func TestErrorBody(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/missing/extent", nil))

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %q", rec.Body.String())
	}
	if !strings.Contains(body["error"], "missing") {
		t.Errorf("unexpected error %q", body["error"])
	}
}

func TestMemcached(t *testing.T) {
	a, loads := newTestAPI(t)
	mc := &memCache{items: make(map[string][]byte)}
	a.mc = mc
	h := a.routes()

	var first, second extentResponse
	get(t, h, "/datasets/tmean/extent", &first)
	get(t, h, "/datasets/tmean/extent", &second)
	if *loads != 1 {
		t.Errorf("cached response loaded the catalog again, %d loads", *loads)
	}
	if first.TemporalDomain != second.TemporalDomain {
		t.Errorf("cached response differs: %+v %+v", first, second)
	}

	get(t, h, "/datasets/missing/extent", nil)
	get(t, h, "/datasets/missing/extent", nil)
	if len(mc.items) != 1 {
		t.Errorf("error responses were cached, %d items", len(mc.items))
	}
}

func TestMetricsRoute(t *testing.T) {
	a, _ := newTestAPI(t)
	h := a.routes()
	get(t, h, "/datasets", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `rastex_http_requests_total{method="GET",route="/datasets",status="200"} 1`) {
		t.Errorf("request not counted:\n%s", rec.Body.String())
	}
}

func TestParseTime(t *testing.T) {
	for _, value := range []string{"2020-01-15", "2020-01-15T00:00:00", "2020-01-15T00:00:00Z", "2020-01-15T10:00:00+10:00"} {
		got, err := parseTime(value)
		if err != nil {
			t.Errorf("%s: %v", value, err)
			continue
		}
		if !got.Equal(date(1, 15)) {
			t.Errorf("%s: expected %v, actual %v", value, date(1, 15), got)
		}
	}
	if _, err := parseTime("15/01/2020"); err == nil {
		t.Errorf("expected an error for an unsupported layout")
	}
}
