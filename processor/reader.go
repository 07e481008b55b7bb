package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BandSource is an open raster file. Implementations own the native
// handle; Close releases it.
type BandSource interface {
	Descriptor() RasterDescriptor
	// ReadBand returns the raw little-endian bytes of one 0-based band
	// over win, row-major.
	ReadBand(win PixelWindow, band int) ([]byte, error)
	Close() error
}

// SourceOpener opens raster files for reading. Opens of the same
// physical file may be serialised by the implementation.
type SourceOpener interface {
	Open(ctx context.Context, path string) (BandSource, error)
}

// BandEvaluator derives extra bands from the decoded bands of a read.
type BandEvaluator interface {
	Names() []string
	Evaluate(bands []DecodedBand) ([]*Float64Band, error)
}

type DatasetOptions struct {
	Name string
	// DefaultFile is read when no instant is requested or no slice
	// matches it. It defaults to the first catalog entry's file.
	DefaultFile string
	// Descriptor skips probing the default file when set.
	Descriptor *RasterDescriptor
	Catalog    *Catalog
	Opener     SourceOpener
	Logger     *zerolog.Logger
	Verbose    bool
}

// Dataset is an opened raster dataset. Its descriptor and catalog are
// fixed at open time, so a Dataset may serve concurrent reads.
type Dataset struct {
	name        string
	defaultFile string
	desc        RasterDescriptor
	catalog     *Catalog
	opener      SourceOpener
	log         zerolog.Logger
	verbose     bool
}

type ReadRequest struct {
	Series  string
	BBox    *Envelope
	Instant *time.Time
	// Bands selects 0-based bands in output order. Empty reads all bands.
	Bands []int
	// Expressions derive extra bands; their variables b1..bN name the
	// read's bands in output order.
	Expressions BandEvaluator
}

type ReadResult struct {
	Bands   []DecodedBand
	Derived []*Float64Band
	// DerivedNames holds one name per derived band.
	DerivedNames []string
	Extent       Envelope
	Window       PixelWindow
	FileRef      string
}

// DecodedBytes is the total size of the result's decoded samples in their
// source encoding.
func (r *ReadResult) DecodedBytes() int {
	n := 0
	for _, b := range r.Bands {
		n += b.Len() * b.SourceType().ByteWidth()
	}
	return n
}

type DatasetInfo struct {
	Name           string           `json:"name"`
	DefaultFile    string           `json:"default_file"`
	Descriptor     RasterDescriptor `json:"descriptor"`
	Envelope       Envelope         `json:"envelope"`
	Series         []string         `json:"series"`
	HasTime        bool             `json:"has_time"`
	TemporalDomain string           `json:"temporal_domain,omitempty"`
	Slices         int              `json:"slices"`
}

func OpenDataset(ctx context.Context, opts DatasetOptions) (*Dataset, error) {
	if opts.Opener == nil {
		return nil, fmt.Errorf("dataset %q: no source opener", opts.Name)
	}

	ds := &Dataset{
		name:        opts.Name,
		defaultFile: opts.DefaultFile,
		catalog:     opts.Catalog,
		opener:      opts.Opener,
		verbose:     opts.Verbose,
	}
	if opts.Logger != nil {
		ds.log = opts.Logger.With().Str("dataset", opts.Name).Logger()
	} else {
		ds.log = zerolog.Nop()
	}

	if ds.defaultFile == "" && ds.catalog != nil && len(ds.catalog.Entries) > 0 {
		ds.defaultFile = ds.catalog.Entries[0].FileRef
	}

	if opts.Descriptor != nil {
		ds.desc = *opts.Descriptor
	} else {
		if ds.defaultFile == "" {
			return nil, fmt.Errorf("%w: dataset %q has no default file", ErrInvalidDataset, opts.Name)
		}
		src, err := ds.opener.Open(ctx, ds.defaultFile)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", opts.Name, err)
		}
		ds.desc = src.Descriptor()
		if err := src.Close(); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", opts.Name, err)
		}
	}

	if err := ds.desc.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", opts.Name, err)
	}

	if ds.verbose {
		ds.log.Debug().Str("file", ds.defaultFile).Stringer("envelope", ds.desc.Envelope()).
			Int("bands", ds.desc.BandCount).Stringer("type", ds.desc.PixelType).Msg("dataset opened")
	}
	return ds, nil
}

func (ds *Dataset) Name() string {
	return ds.name
}

func (ds *Dataset) Descriptor() RasterDescriptor {
	return ds.desc
}

func (ds *Dataset) DefaultFile() string {
	return ds.defaultFile
}

func (ds *Dataset) Catalog() *Catalog {
	return ds.catalog
}

// AvailableSeries returns the catalog's series, or the dataset's own name
// as its single unnamed series when there is no catalog.
func (ds *Dataset) AvailableSeries() []string {
	if ds.catalog == nil || len(ds.catalog.Series) == 0 {
		return []string{ds.name}
	}
	return ds.catalog.SeriesNames()
}

func (ds *Dataset) TemporalExtent() (start, end time.Time, ok bool) {
	if ds.catalog == nil {
		return time.Time{}, time.Time{}, false
	}
	return TemporalExtent(ds.catalog.Entries)
}

// TemporalDomain returns the formatted temporal extent, or "" when the
// dataset has no time dimension.
func (ds *Dataset) TemporalDomain() string {
	start, end, ok := ds.TemporalExtent()
	if !ok {
		return ""
	}
	return FormatTemporalDomain(start, end)
}

func (ds *Dataset) Describe() DatasetInfo {
	info := DatasetInfo{
		Name:           ds.name,
		DefaultFile:    ds.defaultFile,
		Descriptor:     ds.desc,
		Envelope:       ds.desc.Envelope(),
		Series:         ds.AvailableSeries(),
		TemporalDomain: ds.TemporalDomain(),
	}
	info.HasTime = info.TemporalDomain != ""
	if ds.catalog != nil {
		info.Slices = len(ds.catalog.Entries)
	}
	return info
}

// ResolveFile picks the file serving an instant within a series. A nil
// instant, or one no slice covers, yields the default file.
func (ds *Dataset) ResolveFile(series string, instant *time.Time) (string, error) {
	if ds.catalog == nil || len(ds.catalog.Series) == 0 {
		if series != "" && series != ds.name {
			return "", fmt.Errorf("%w: %q", ErrUnknownSeries, series)
		}
		return ds.defaultFile, nil
	}

	members, found := ds.catalog.Members(series)
	if !found {
		return "", fmt.Errorf("%w: %q", ErrUnknownSeries, series)
	}
	if instant == nil {
		return ds.defaultFile, nil
	}
	if fileRef, ok := ResolveSlice(ds.catalog.Entries, members, *instant); ok {
		return fileRef, nil
	}
	if ds.verbose {
		ds.log.Debug().Str("series", series).Time("instant", *instant).Msg("no slice matched, using default file")
	}
	return ds.defaultFile, nil
}

// Read decodes the requested bands over the window covering req.BBox in
// the file valid at req.Instant. When a band fails to read or decode, the
// bands before it are returned along with a *BandError.
func (ds *Dataset) Read(ctx context.Context, req ReadRequest) (res *ReadResult, err error) {
	fileRef, err := ds.ResolveFile(req.Series, req.Instant)
	if err != nil {
		return nil, err
	}

	src, err := ds.opener.Open(ctx, fileRef)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fileRef, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", fileRef, cerr)
		}
	}()

	desc := src.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fileRef, err)
	}

	bands := req.Bands
	if len(bands) == 0 {
		bands = make([]int, desc.BandCount)
		for i := range bands {
			bands[i] = i
		}
	}
	for _, b := range bands {
		if b < 0 || b >= desc.BandCount {
			return nil, fmt.Errorf("%w: band %d of %d", ErrBandIndex, b, desc.BandCount)
		}
	}

	rasterEnv := desc.Envelope()
	win := FullWindow(desc)
	if req.BBox != nil {
		win = ResolveWindow(rasterEnv, desc.ResX, desc.ResY, *req.BBox)
	}

	res = &ReadResult{
		Bands:   make([]DecodedBand, 0, len(bands)),
		Extent:  ProjectEnvelope(rasterEnv, desc.ResX, desc.ResY, win),
		Window:  win,
		FileRef: fileRef,
	}

	if ds.verbose {
		ds.log.Debug().Str("file", fileRef).Stringer("window", win).Stringer("extent", res.Extent).
			Ints("bands", bands).Msg("read")
	}

	for _, b := range bands {
		if err := ctx.Err(); err != nil {
			return res, &BandError{Band: b, Err: err}
		}
		raw, err := src.ReadBand(win, b)
		if err != nil {
			return res, &BandError{Band: b, Err: err}
		}
		band, err := DecodeBand(raw, win, desc.PixelType)
		if err != nil {
			return res, &BandError{Band: b, Err: err}
		}
		res.Bands = append(res.Bands, band)
	}

	if req.Expressions != nil {
		derived, err := req.Expressions.Evaluate(res.Bands)
		if err != nil {
			return res, fmt.Errorf("band expressions: %w", err)
		}
		res.Derived = derived
		res.DerivedNames = req.Expressions.Names()
	}

	return res, nil
}
