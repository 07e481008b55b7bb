package rasterservice

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/context"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/nci/rastex/cache"
	"github.com/nci/rastex/metrics"
	"github.com/nci/rastex/processor"
	"github.com/nci/rastex/utils"
)

// ResultStore keeps encoded read responses between requests.
type ResultStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

// Server implements RasterReaderServer over a Registry. Cache and
// MetricsLogger are optional.
type Server struct {
	Registry      *Registry
	Cache         ResultStore
	Metrics       *metrics.Provider
	MetricsLogger metrics.Logger
	ConcLimit     int
	Log           zerolog.Logger
	Verbose       bool

	limiter *processor.ConcLimiter
}

func NewServer(registry *Registry, provider *metrics.Provider, concLimit int, log zerolog.Logger) *Server {
	if concLimit < 1 {
		concLimit = utils.DefaultConcLimit
	}
	if provider == nil {
		provider = metrics.NewProvider()
	}
	return &Server{
		Registry:  registry,
		Metrics:   provider,
		ConcLimit: concLimit,
		Log:       log,
		limiter:   processor.NewConcLimiter(concLimit),
	}
}

func (s *Server) Read(ctx context.Context, in *ReadRequest) (*ReadResponse, error) {
	collector := s.newCollector(ctx, "Read")
	defer collector.Log()
	fillReadInfo(collector.Info.Read, in)

	resp, err := s.read(ctx, in, collector.Info.Read)
	if err != nil {
		collector.Info.Status = status.Code(err).String()
		collector.Info.Error = err.Error()
		return nil, err
	}
	collector.Info.Status = codes.OK.String()
	return resp, nil
}

func (s *Server) read(ctx context.Context, in *ReadRequest, info *metrics.ReadInfo) (*ReadResponse, error) {
	if err := s.limiter.IncreaseContext(ctx); err != nil {
		return nil, toStatus(err)
	}
	defer s.limiter.Decrease()

	start := time.Now()
	key := cache.Key(in.Dataset, in.Series, in.BBox, in.Instant, in.Bands, in.Expressions)
	if resp, found := s.cachedResponse(ctx, key); found {
		info.CacheHit = true
		info.FileRef = resp.FileRef
		info.Window = resp.Window.String()
		info.NumBands = len(resp.Bands)
		return resp, nil
	}

	ds, err := s.Registry.Get(ctx, in.Dataset)
	if err != nil {
		return nil, s.readFailed(in.Dataset, start, err)
	}

	req, err := s.readRequest(ds, in)
	if err != nil {
		return nil, err
	}

	res, err := ds.Read(ctx, req)
	if err != nil {
		if s.Verbose {
			s.Log.Debug().Err(err).Str("dataset", in.Dataset).Msg("read failed")
		}
		return nil, s.readFailed(in.Dataset, start, err)
	}
	s.Metrics.ObserveRead(in.Dataset, "ok", time.Since(start), res.DecodedBytes())

	info.FileRef = res.FileRef
	info.Window = res.Window.String()
	info.NumBands = len(res.Bands)
	info.DecodedBytes = int64(res.DecodedBytes())

	resp, err := NewReadResponse(in.Dataset, res)
	if err != nil {
		return nil, toStatus(err)
	}
	s.storeResponse(ctx, key, resp)
	return resp, nil
}

func (s *Server) readFailed(dataset string, start time.Time, err error) error {
	err = toStatus(err)
	s.Metrics.ObserveRead(dataset, strings.ToLower(status.Code(err).String()), time.Since(start), 0)
	return err
}

func (s *Server) readRequest(ds *OpenedDataset, in *ReadRequest) (processor.ReadRequest, error) {
	req := processor.ReadRequest{
		Series:  in.Series,
		BBox:    in.BBox,
		Instant: in.Instant,
		Bands:   in.Bands,
	}
	if req.Series == "" {
		req.Series = ds.Config.DefaultSeries
	}

	bandCount := len(in.Bands)
	if bandCount == 0 {
		bandCount = ds.Descriptor().BandCount
	}

	switch {
	case in.Expressions != "":
		exprs, err := utils.ParseBandExpressions(in.Expressions)
		if err != nil {
			return req, status.Error(codes.InvalidArgument, err.Error())
		}
		if exprs.MaxBand() > bandCount {
			return req, status.Errorf(codes.InvalidArgument, "expressions refer to b%d but the read has %d bands", exprs.MaxBand(), bandCount)
		}
		req.Expressions = exprs
	case ds.Expressions != nil && ds.Expressions.MaxBand() <= bandCount:
		req.Expressions = ds.Expressions
	case ds.Expressions != nil && s.Verbose:
		s.Log.Debug().Str("dataset", ds.Config.Name).Ints("bands", in.Bands).
			Msg("configured expressions skipped, the read lacks bands they refer to")
	}
	return req, nil
}

func (s *Server) cachedResponse(ctx context.Context, key string) (*ReadResponse, bool) {
	if s.Cache == nil {
		return nil, false
	}
	payload, found, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.Metrics.IncCacheError()
		s.Log.Warn().Err(err).Msg("result cache get")
		return nil, false
	}
	if !found {
		s.Metrics.IncCacheMiss()
		return nil, false
	}

	resp := &ReadResponse{}
	if err := json.Unmarshal(payload, resp); err != nil {
		s.Metrics.IncCacheError()
		s.Log.Warn().Err(err).Str("key", key).Msg("result cache payload")
		return nil, false
	}
	s.Metrics.IncCacheHit()
	resp.CacheHit = true
	return resp, true
}

func (s *Server) storeResponse(ctx context.Context, key string, resp *ReadResponse) {
	if s.Cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err == nil {
		err = s.Cache.Set(ctx, key, payload)
	}
	if err != nil {
		s.Metrics.IncCacheError()
		s.Log.Warn().Err(err).Msg("result cache set")
	}
}

func (s *Server) Describe(ctx context.Context, in *DescribeRequest) (*processor.DatasetInfo, error) {
	collector := s.newCollector(ctx, "Describe")
	defer collector.Log()
	collector.Info.Read.Dataset = in.Dataset

	ds, err := s.Registry.Get(ctx, in.Dataset)
	if err != nil {
		err = toStatus(err)
		collector.Info.Status = status.Code(err).String()
		collector.Info.Error = err.Error()
		return nil, err
	}
	collector.Info.Status = codes.OK.String()
	info := ds.Describe()
	return &info, nil
}

// Drill reads one request at every instant. Reads run concurrently up to
// the server's concurrency limit; a failed instant is reported in its item.
func (s *Server) Drill(ctx context.Context, in *DrillRequest) (*DrillResponse, error) {
	collector := s.newCollector(ctx, "Drill")
	defer collector.Log()
	fillReadInfo(collector.Info.Read, &in.Read)

	resp, err := s.drill(ctx, in)
	if err != nil {
		collector.Info.Status = status.Code(err).String()
		collector.Info.Error = err.Error()
		return nil, err
	}
	collector.Info.Status = codes.OK.String()
	return resp, nil
}

func (s *Server) drill(ctx context.Context, in *DrillRequest) (*DrillResponse, error) {
	if len(in.Instants) == 0 {
		return nil, status.Error(codes.InvalidArgument, "drill needs at least one instant")
	}
	if err := s.limiter.IncreaseContext(ctx); err != nil {
		return nil, toStatus(err)
	}
	defer s.limiter.Decrease()

	ds, err := s.Registry.Get(ctx, in.Read.Dataset)
	if err != nil {
		return nil, toStatus(err)
	}
	req, err := s.readRequest(ds, &in.Read)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := processor.Drill(ctx, ds.Dataset, req, in.Instants, s.ConcLimit)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &DrillResponse{Items: make([]DrillItem, len(results))}
	decoded := 0
	for i, r := range results {
		resp.Items[i].Instant = r.Instant
		if r.Err != nil {
			resp.Items[i].Error = r.Err.Error()
			continue
		}
		decoded += r.Result.DecodedBytes()
		if resp.Items[i].Response, err = NewReadResponse(in.Read.Dataset, r.Result); err != nil {
			resp.Items[i].Error = err.Error()
		}
	}
	s.Metrics.ObserveRead(in.Read.Dataset, "drill", time.Since(start), decoded)
	return resp, nil
}

func (s *Server) newCollector(ctx context.Context, method string) *metrics.MetricsCollector {
	collector := metrics.NewMetricsCollector(s.MetricsLogger)
	collector.Info.Method = method
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		collector.Info.RemoteAddr = p.Addr.String()
	}
	return collector
}

func fillReadInfo(info *metrics.ReadInfo, in *ReadRequest) {
	info.Dataset = in.Dataset
	info.Series = in.Series
	info.Bands = in.Bands
	info.Expressions = in.Expressions
	if in.BBox != nil {
		info.BBox = []float64{in.BBox.MinX, in.BBox.MinY, in.BBox.MaxX, in.BBox.MaxY}
	}
	if in.Instant != nil {
		info.Instant = in.Instant.UTC().Format(utils.ISOFormat)
	}
}

// toStatus maps read errors onto gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, ErrUnknownDataset), errors.Is(err, processor.ErrUnknownSeries):
		code = codes.NotFound
	case errors.Is(err, processor.ErrBandIndex), errors.Is(err, processor.ErrEmptyWindow):
		code = codes.InvalidArgument
	case errors.Is(err, processor.ErrSizeMismatch):
		code = codes.DataLoss
	}
	return status.Error(code, err.Error())
}
