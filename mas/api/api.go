// Metadata API

package main

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/gomemcache/memcache"
	"github.com/rs/zerolog"

	"github.com/nci/rastex/catalog"
	"github.com/nci/rastex/metrics"
	"github.com/nci/rastex/processor"
	"github.com/nci/rastex/utils"
)

var (
	configFile = flag.String("conf", utils.EtcDir+"/config.yaml", "config file")
	dbPool     = flag.Int("pool", 8, "database pool size per catalog")
	dbLimit    = flag.Int("limit", 64, "database concurrent requests per catalog")
	httpPort   = flag.Int("port", 8080, "http port")
	mcURI      = flag.String("memcache", "", "memcache uri host:port, overrides memcache_address")
	verbose    = flag.Bool("v", false, "verbose logging")
)

var errNotFound = errors.New("not found")

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	http.Error(response, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

// responseCache is the part of the memcache client the API uses.
type responseCache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

type catalogFunc func(ctx context.Context, cfg utils.DatasetConfig) (*processor.Catalog, error)

type api struct {
	config   *utils.ConfigHolder
	catalogs catalogFunc
	mc       responseCache
	provider *metrics.Provider
	log      zerolog.Logger
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(a.observe)
	r.Handle("/metrics", a.provider.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.memcached)
		r.Get("/datasets", a.datasets)
		r.Get("/datasets/{name}/series", a.series)
		r.Get("/datasets/{name}/extent", a.extent)
		r.Get("/datasets/{name}/slices", a.slices)
	})
	return r
}

// observe records request counts and latencies by route pattern.
func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.provider.ObserveHTTP(r.Method, route, status, time.Since(start))
		if *verbose {
			a.log.Debug().Str("uri", r.URL.RequestURI()).Int("status", status).Dur("duration", time.Since(start)).Msg("request")
		}
	})
}

// memcached answers from memcache, keyed by the md5 of the request URI,
// and stores successful responses.
func (a *api) memcached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.mc == nil {
			next.ServeHTTP(w, r)
			return
		}

		buff := md5.Sum([]byte(r.URL.RequestURI()))
		hash := hex.EncodeToString(buff[:])

		cached, err := a.mc.Get(hash)
		switch {
		case err == nil:
			a.provider.IncCacheHit()
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached.Value)
			return
		case errors.Is(err, memcache.ErrCacheMiss):
			a.provider.IncCacheMiss()
		default:
			a.provider.IncCacheError()
		}

		body := new(bytes.Buffer)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(body)
		next.ServeHTTP(ww, r)

		if ww.Status() == http.StatusOK || ww.Status() == 0 {
			// don't care about errors; memcache may not necessarily retain this anyway
			a.mc.Set(&memcache.Item{Key: hash, Value: body.Bytes()})
		}
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		httpJSONError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (a *api) datasets(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	for _, ds := range a.config.Get().Datasets {
		names = append(names, ds.Name)
	}
	sort.Strings(names)
	writeJSON(w, map[string][]string{"datasets": names})
}

// lookup returns the dataset named in the route with its catalog. Datasets
// without a catalog have a nil catalog.
func (a *api) lookup(w http.ResponseWriter, r *http.Request) (utils.DatasetConfig, *processor.Catalog, bool) {
	name := chi.URLParam(r, "name")
	cfg, found := a.config.Get().Dataset(name)
	if !found {
		httpJSONError(w, fmt.Errorf("dataset %q %w", name, errNotFound), http.StatusNotFound)
		return cfg, nil, false
	}
	if cfg.CatalogDSN == "" {
		return cfg, nil, true
	}

	cat, err := a.catalogs(r.Context(), cfg)
	if err != nil {
		a.log.Error().Err(err).Str("dataset", name).Msg("loading catalog")
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrNoCatalog) {
			status = http.StatusNotFound
		}
		httpJSONError(w, err, status)
		return cfg, nil, false
	}
	return cfg, cat, true
}

type seriesResponse struct {
	Dataset string              `json:"dataset"`
	Series  []string            `json:"series"`
	Members map[string][]string `json:"members,omitempty"`
}

func (a *api) series(w http.ResponseWriter, r *http.Request) {
	cfg, cat, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if cat == nil {
		writeJSON(w, seriesResponse{Dataset: cfg.Name, Series: []string{cfg.Name}})
		return
	}
	writeJSON(w, seriesResponse{Dataset: cfg.Name, Series: cat.SeriesNames(), Members: cat.Series})
}

type extentResponse struct {
	Dataset        string     `json:"dataset"`
	HasTime        bool       `json:"has_time"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	TemporalDomain string     `json:"temporal_domain,omitempty"`
	Slices         int        `json:"slices"`
}

func (a *api) extent(w http.ResponseWriter, r *http.Request) {
	cfg, cat, ok := a.lookup(w, r)
	if !ok {
		return
	}

	resp := extentResponse{Dataset: cfg.Name}
	if cat != nil {
		resp.Slices = len(cat.Entries)
		if start, end, found := processor.TemporalExtent(cat.Entries); found {
			resp.HasTime = true
			resp.Start, resp.End = &start, &end
			resp.TemporalDomain = processor.FormatTemporalDomain(start, end)
		}
	}
	writeJSON(w, resp)
}

type sliceInfo struct {
	SliceID string    `json:"slice_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	FileRef string    `json:"file_ref"`
}

type slicesResponse struct {
	Dataset string      `json:"dataset"`
	Series  string      `json:"series,omitempty"`
	Time    string      `json:"time,omitempty"`
	FileRef string      `json:"file_ref,omitempty"`
	Default bool        `json:"default,omitempty"`
	Slices  []sliceInfo `json:"slices,omitempty"`
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected e.g. %s", value, utils.ISOFormat)
}

// slices lists the slices of a series. With ?time= it resolves the file
// serving that instant instead; an instant no slice covers resolves to the
// dataset's default file.
func (a *api) slices(w http.ResponseWriter, r *http.Request) {
	cfg, cat, ok := a.lookup(w, r)
	if !ok {
		return
	}

	series := r.FormValue("series")
	if series == "" {
		series = cfg.DefaultSeries
	}
	resp := slicesResponse{Dataset: cfg.Name, Series: series}

	var members map[string]bool
	if cat != nil {
		var found bool
		if members, found = cat.Members(series); !found {
			httpJSONError(w, fmt.Errorf("%w: %q", processor.ErrUnknownSeries, series), http.StatusNotFound)
			return
		}
	} else if series != "" && series != cfg.Name {
		httpJSONError(w, fmt.Errorf("%w: %q", processor.ErrUnknownSeries, series), http.StatusNotFound)
		return
	}

	defaultFile := cfg.Path
	if defaultFile == "" && cat != nil && len(cat.Entries) > 0 {
		defaultFile = cat.Entries[0].FileRef
	}

	if value := r.FormValue("time"); value != "" {
		instant, err := parseTime(value)
		if err != nil {
			httpJSONError(w, err, http.StatusBadRequest)
			return
		}
		resp.Time = instant.Format(utils.ISOFormat)
		fileRef, found := "", false
		if cat != nil {
			fileRef, found = processor.ResolveSlice(cat.Entries, members, instant)
		}
		if !found {
			fileRef, resp.Default = defaultFile, true
		}
		resp.FileRef = fileRef
		writeJSON(w, resp)
		return
	}

	if cat == nil {
		resp.FileRef, resp.Default = defaultFile, true
		writeJSON(w, resp)
		return
	}
	for _, e := range processor.MemberEntries(cat.Entries, members) {
		resp.Slices = append(resp.Slices, sliceInfo{SliceID: e.SliceID, Start: e.Start, End: e.End, FileRef: e.FileRef})
	}
	writeJSON(w, resp)
}

// pooledCatalogs keeps one catalog connection pool per DSN.
type pooledCatalogs struct {
	log     zerolog.Logger
	mu      sync.Mutex
	loaders map[string]*catalog.Loader
}

func (p *pooledCatalogs) load(ctx context.Context, cfg utils.DatasetConfig) (*processor.Catalog, error) {
	p.mu.Lock()
	loader, found := p.loaders[cfg.CatalogDSN+"|"+cfg.GrassLocation]
	if !found {
		var err error
		loader, err = catalog.NewLoader(cfg.CatalogDSN, cfg.GrassLocation, p.log)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		loader.DB.SetMaxIdleConns(*dbPool)
		loader.DB.SetMaxOpenConns(*dbLimit)
		p.loaders[cfg.CatalogDSN+"|"+cfg.GrassLocation] = loader
	}
	p.mu.Unlock()
	return loader.Load(ctx)
}

func main() {
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in loading config file: %v\n", err)
		os.Exit(2)
	}

	logCfg := config.ServiceConfig.Log
	logCfg.Component = "mas"
	log := utils.VerboseLogger(logCfg, os.Stderr, *verbose)

	holder := utils.NewConfigHolder(config)
	stopWatch := utils.WatchConfig(log, *configFile, holder, nil)
	defer stopWatch()

	catalogs := &pooledCatalogs{log: log, loaders: make(map[string]*catalog.Loader)}
	a := &api{
		config:   holder,
		catalogs: catalogs.load,
		provider: metrics.NewProvider(),
		log:      log,
	}

	uri := config.ServiceConfig.MemcacheAddress
	if *mcURI != "" {
		uri = *mcURI
	}
	if uri != "" {
		// lazy connection; errors returned in .Get
		a.mc = memcache.New(uri)
	}

	addr := config.ServiceConfig.APIAddress
	if addr == "" {
		addr = ":" + strconv.Itoa(*httpPort)
	}
	lis, err := reuseport.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("address", addr).Msg("failed to listen")
	}

	log.Info().Str("address", addr).Int("pool", *dbPool).Int("limit", *dbLimit).Str("memcache", uri).Msg("metadata api listening")
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	log.Fatal().Err(srv.Serve(lis)).Msg("metadata api stopped")
}
