package processor

import (
	"fmt"
	"math"
	"strings"
)

type PixelType int

const (
	Byte PixelType = iota + 1
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

var pixelTypeNames = map[PixelType]string{
	Byte:    "Byte",
	Int16:   "Int16",
	UInt16:  "UInt16",
	Int32:   "Int32",
	UInt32:  "UInt32",
	Float32: "Float32",
	Float64: "Float64",
}

var pixelTypeWidths = map[PixelType]int{
	Byte:    1,
	Int16:   2,
	UInt16:  2,
	Int32:   4,
	UInt32:  4,
	Float32: 4,
	Float64: 8,
}

func (pt PixelType) String() string {
	if name, found := pixelTypeNames[pt]; found {
		return name
	}
	return fmt.Sprintf("PixelType(%d)", int(pt))
}

// ByteWidth returns the number of bytes a single sample of this type
// occupies in a raw band buffer, or 0 for unknown types.
func (pt PixelType) ByteWidth() int {
	return pixelTypeWidths[pt]
}

func (pt PixelType) Valid() bool {
	_, found := pixelTypeWidths[pt]
	return found
}

func (pt PixelType) MarshalText() ([]byte, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: pixel type %d", ErrInvalidDataset, int(pt))
	}
	return []byte(pt.String()), nil
}

func (pt *PixelType) UnmarshalText(text []byte) error {
	p, err := ParsePixelType(string(text))
	if err != nil {
		return err
	}
	*pt = p
	return nil
}

// ParsePixelType maps a GDAL data type name onto a PixelType. Complex and
// signed byte types have no decode rule and are rejected.
func ParsePixelType(name string) (PixelType, error) {
	for pt, n := range pixelTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return pt, nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported pixel type %q", ErrInvalidDataset, name)
}

// Envelope is an axis-aligned rectangle in the dataset's CRS units.
type Envelope struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func (e Envelope) Width() float64 {
	return e.MaxX - e.MinX
}

func (e Envelope) Height() float64 {
	return e.MaxY - e.MinY
}

func (e Envelope) Contains(o Envelope) bool {
	return e.MinX <= o.MinX && e.MinY <= o.MinY && e.MaxX >= o.MaxX && e.MaxY >= o.MaxY
}

func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Clamp crops o to e on all four sides.
func (e Envelope) Clamp(o Envelope) Envelope {
	return Envelope{
		MinX: math.Max(o.MinX, e.MinX),
		MinY: math.Max(o.MinY, e.MinY),
		MaxX: math.Min(o.MaxX, e.MaxX),
		MaxY: math.Min(o.MaxY, e.MaxY),
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("(%v,%v)-(%v,%v)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// PixelWindow is a rectangle in pixel index space, relative to the
// raster's top-left pixel.
type PixelWindow struct {
	OffX   int `json:"off_x"`
	OffY   int `json:"off_y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (w PixelWindow) Size() int {
	return w.Width * w.Height
}

func (w PixelWindow) String() string {
	return fmt.Sprintf("{%d,%d %dx%d}", w.OffX, w.OffY, w.Width, w.Height)
}

// RasterDescriptor holds the geometry and encoding of a raster dataset as
// reported at open time. It is never mutated after Validate succeeds.
type RasterDescriptor struct {
	Width     int       `json:"x_size"`
	Height    int       `json:"y_size"`
	BandCount int       `json:"raster_count"`
	OriginX   float64   `json:"origin_x"`
	OriginY   float64   `json:"origin_y"`
	ResX      float64   `json:"res_x"`
	ResY      float64   `json:"res_y"`
	PixelType PixelType `json:"array_type"`
	CRS       string    `json:"crs,omitempty"`
}

// NewRasterDescriptor builds a descriptor from a GDAL style geotransform.
// Rotated geotransforms are not supported.
func NewRasterDescriptor(geot []float64, width, height, bandCount int, pt PixelType, crs string) (RasterDescriptor, error) {
	if len(geot) != 6 {
		return RasterDescriptor{}, fmt.Errorf("%w: geotransform requires 6 values, got %d", ErrInvalidDataset, len(geot))
	}
	if geot[2] != 0 || geot[4] != 0 {
		return RasterDescriptor{}, fmt.Errorf("%w: rotated geotransform %v", ErrInvalidDataset, geot)
	}
	desc := RasterDescriptor{
		Width:     width,
		Height:    height,
		BandCount: bandCount,
		OriginX:   geot[0],
		OriginY:   geot[3],
		ResX:      geot[1],
		ResY:      geot[5],
		PixelType: pt,
		CRS:       crs,
	}
	return desc, desc.Validate()
}

func (d RasterDescriptor) Validate() error {
	switch {
	case d.Width <= 0 || d.Height <= 0:
		return fmt.Errorf("%w: raster size %dx%d", ErrInvalidDataset, d.Width, d.Height)
	case d.BandCount < 1:
		return fmt.Errorf("%w: band count %d", ErrInvalidDataset, d.BandCount)
	case !(d.ResX > 0):
		return fmt.Errorf("%w: x resolution %v", ErrInvalidDataset, d.ResX)
	case d.ResY == 0 || math.IsNaN(d.ResY):
		return fmt.Errorf("%w: y resolution %v", ErrInvalidDataset, d.ResY)
	case math.IsNaN(d.OriginX) || math.IsNaN(d.OriginY) || math.IsInf(d.OriginX, 0) || math.IsInf(d.OriginY, 0):
		return fmt.Errorf("%w: origin (%v,%v)", ErrInvalidDataset, d.OriginX, d.OriginY)
	case !d.PixelType.Valid():
		return fmt.Errorf("%w: pixel type %v", ErrInvalidDataset, d.PixelType)
	}
	return nil
}

// Envelope returns the raster's full extent. The y bounds are ordered so
// that both north-up (negative ResY) and south-up rasters yield MinY <= MaxY.
func (d RasterDescriptor) Envelope() Envelope {
	y0 := d.OriginY
	y1 := d.OriginY + d.ResY*float64(d.Height)
	return Envelope{
		MinX: d.OriginX,
		MinY: math.Min(y0, y1),
		MaxX: d.OriginX + d.ResX*float64(d.Width),
		MaxY: math.Max(y0, y1),
	}
}

func (d RasterDescriptor) GeoTransform() []float64 {
	return []float64{d.OriginX, d.ResX, 0, d.OriginY, 0, d.ResY}
}
