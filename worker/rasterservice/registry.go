package rasterservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/nci/rastex/catalog"
	"github.com/nci/rastex/processor"
	"github.com/nci/rastex/utils"
)

var ErrUnknownDataset = errors.New("unknown dataset")

// CatalogLoader reads the temporal catalog of a dataset whose slices live
// in location.
type CatalogLoader func(ctx context.Context, cfg utils.DatasetConfig, location string) (*processor.Catalog, error)

// LoadPostgresCatalog reads a GRASS TGIS catalog with lib/pq.
func LoadPostgresCatalog(log zerolog.Logger) CatalogLoader {
	return func(ctx context.Context, cfg utils.DatasetConfig, location string) (*processor.Catalog, error) {
		loader, err := catalog.NewLoader(cfg.CatalogDSN, location, log)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		return loader.Load(ctx)
	}
}

// OpenedDataset is a dataset ready to serve reads.
type OpenedDataset struct {
	*processor.Dataset
	Config      utils.DatasetConfig
	Expressions *utils.BandExpressions
}

type registryEntry struct {
	once sync.Once
	ds   *OpenedDataset
	err  error
}

// Registry maps dataset names to their configuration and opens each
// dataset at most once, on first use. Opened datasets are kept in an LRU;
// an evicted dataset is opened again when next requested.
type Registry struct {
	Opener processor.SourceOpener
	// Resolver locates relative dataset paths. Nil takes paths as given.
	Resolver *utils.RuntimeFileResolver
	Catalogs CatalogLoader
	Log      zerolog.Logger
	Verbose  bool

	mu      sync.Mutex
	configs map[string]utils.DatasetConfig
	opened  *lru.Cache[string, *registryEntry]
}

func NewRegistry(datasets []utils.DatasetConfig, size int, opener processor.SourceOpener, log zerolog.Logger) (*Registry, error) {
	if size < 1 {
		size = utils.DefaultDatasetCacheSize
	}
	opened, err := lru.New[string, *registryEntry](size)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		Opener:   opener,
		Resolver: utils.NewRuntimeFileResolver(utils.DataDir),
		Catalogs: LoadPostgresCatalog(log),
		Log:      log,
		opened:   opened,
	}
	r.Reload(datasets)
	return r, nil
}

// Reload replaces the dataset configurations and forgets every opened
// dataset.
func (r *Registry) Reload(datasets []utils.DatasetConfig) {
	configs := make(map[string]utils.DatasetConfig, len(datasets))
	for _, ds := range datasets {
		configs[ds.Name] = ds
	}

	r.mu.Lock()
	r.configs = configs
	r.opened.Purge()
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Get returns the named dataset, opening it if needed. A failed open is
// not remembered.
func (r *Registry) Get(ctx context.Context, name string) (*OpenedDataset, error) {
	r.mu.Lock()
	cfg, found := r.configs[name]
	if !found {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
	}
	entry, found := r.opened.Get(name)
	if !found {
		entry = &registryEntry{}
		r.opened.Add(name, entry)
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.ds, entry.err = r.open(ctx, cfg)
	})
	if entry.err != nil {
		r.mu.Lock()
		if cur, ok := r.opened.Peek(name); ok && cur == entry {
			r.opened.Remove(name)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.ds, nil
}

func (r *Registry) open(ctx context.Context, cfg utils.DatasetConfig) (*OpenedDataset, error) {
	opts := processor.DatasetOptions{
		Name:    cfg.Name,
		Opener:  r.Opener,
		Logger:  &r.Log,
		Verbose: r.Verbose,
	}

	if cfg.Path != "" {
		path, err := r.resolve(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", cfg.Name, err)
		}
		opts.DefaultFile = path
	}

	if cfg.CatalogDSN != "" {
		location, err := r.resolve(cfg.GrassLocation)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", cfg.Name, err)
		}
		cat, err := r.Catalogs(ctx, cfg, location)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", cfg.Name, err)
		}
		opts.Catalog = cat
	}

	opened := &OpenedDataset{Config: cfg}
	if cfg.BandExpressions != "" {
		exprs, err := utils.ParseBandExpressions(cfg.BandExpressions)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", cfg.Name, err)
		}
		opened.Expressions = exprs
	}

	ds, err := processor.OpenDataset(ctx, opts)
	if err != nil {
		return nil, err
	}
	opened.Dataset = ds

	r.Log.Info().Str("dataset", cfg.Name).Str("default_file", ds.DefaultFile()).
		Strs("series", ds.AvailableSeries()).Msg("dataset opened")
	return opened, nil
}

func (r *Registry) resolve(path string) (string, error) {
	if r.Resolver == nil {
		return path, nil
	}
	return r.Resolver.Lookup(path)
}
