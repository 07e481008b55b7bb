package rasterservice

import (
	"fmt"
	"time"

	"github.com/nci/rastex/processor"
)

type ReadRequest struct {
	Dataset string              `json:"dataset"`
	Series  string              `json:"series,omitempty"`
	BBox    *processor.Envelope `json:"bbox,omitempty"`
	Instant *time.Time          `json:"instant,omitempty"`
	Bands   []int               `json:"bands,omitempty"`
	// Expressions overrides the dataset's configured band expressions.
	Expressions string `json:"expressions,omitempty"`
}

// Band is one band of a read in its source pixel type, little-endian.
type Band struct {
	Name      string              `json:"name,omitempty"`
	PixelType processor.PixelType `json:"pixel_type"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Data      []byte              `json:"data"`
}

type ReadResponse struct {
	Dataset  string                `json:"dataset"`
	FileRef  string                `json:"file_ref"`
	Window   processor.PixelWindow `json:"window"`
	Extent   processor.Envelope    `json:"extent"`
	Bands    []Band                `json:"bands"`
	Derived  []Band                `json:"derived,omitempty"`
	CacheHit bool                  `json:"cache_hit,omitempty"`
}

type DescribeRequest struct {
	Dataset string `json:"dataset"`
}

type DrillRequest struct {
	Read     ReadRequest `json:"read"`
	Instants []time.Time `json:"instants"`
}

// DrillItem is the read of one instant. A failed read carries Error and
// no Response.
type DrillItem struct {
	Instant  time.Time     `json:"instant"`
	Response *ReadResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type DrillResponse struct {
	Items []DrillItem `json:"items"`
}

func encodeBands(bands []processor.DecodedBand, names []string) ([]Band, error) {
	out := make([]Band, len(bands))
	for i, b := range bands {
		data, err := processor.EncodeBand(b)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
		w, h := b.Size()
		out[i] = Band{PixelType: b.SourceType(), Width: w, Height: h, Data: data}
		if i < len(names) {
			out[i].Name = names[i]
		}
	}
	return out, nil
}

// NewReadResponse encodes a read result for transport.
func NewReadResponse(dataset string, res *processor.ReadResult) (*ReadResponse, error) {
	bands, err := encodeBands(res.Bands, nil)
	if err != nil {
		return nil, err
	}

	derived := make([]processor.DecodedBand, len(res.Derived))
	for i, b := range res.Derived {
		derived[i] = b
	}
	derivedBands, err := encodeBands(derived, res.DerivedNames)
	if err != nil {
		return nil, err
	}

	return &ReadResponse{
		Dataset: dataset,
		FileRef: res.FileRef,
		Window:  res.Window,
		Extent:  res.Extent,
		Bands:   bands,
		Derived: derivedBands,
	}, nil
}

// Decode returns the band's samples.
func (b Band) Decode() (processor.DecodedBand, error) {
	win := processor.PixelWindow{Width: b.Width, Height: b.Height}
	return processor.DecodeBand(b.Data, win, b.PixelType)
}

// Result decodes the response back into a read result.
func (r *ReadResponse) Result() (*processor.ReadResult, error) {
	res := &processor.ReadResult{Extent: r.Extent, Window: r.Window, FileRef: r.FileRef}
	for i, b := range r.Bands {
		decoded, err := b.Decode()
		if err != nil {
			return nil, &processor.BandError{Band: i, Err: err}
		}
		res.Bands = append(res.Bands, decoded)
	}
	for i, b := range r.Derived {
		decoded, err := b.Decode()
		if err != nil {
			return nil, fmt.Errorf("derived band %s: %w", b.Name, err)
		}
		f64, ok := decoded.(*processor.Float64Band)
		if !ok {
			return nil, fmt.Errorf("derived band %d is %v, expected Float64", i, b.PixelType)
		}
		res.Derived = append(res.Derived, f64)
		res.DerivedNames = append(res.DerivedNames, b.Name)
	}
	return res, nil
}
