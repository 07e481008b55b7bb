package processor

// DecodedBand is one band of a read, decoded into a flat row-major buffer
// of Width*Height samples. The concrete container depends on the source
// pixel type so that no sample value is lost:
//
//	Byte, UInt16, Int16, Int32 -> *Int32Band
//	UInt32                     -> *Int64Band
//	Float32                    -> *Float32Band
//	Float64                    -> *Float64Band
type DecodedBand interface {
	SourceType() PixelType
	Size() (width, height int)
	Len() int
	Float64At(i int) float64
}

type Int32Band struct {
	Type          PixelType
	Data          []int32
	Width, Height int
}

func (b *Int32Band) SourceType() PixelType { return b.Type }
func (b *Int32Band) Size() (int, int) { return b.Width, b.Height }
func (b *Int32Band) Len() int { return len(b.Data) }
func (b *Int32Band) Float64At(i int) float64 { return float64(b.Data[i]) }

type Int64Band struct {
	Type          PixelType
	Data          []int64
	Width, Height int
}

func (b *Int64Band) SourceType() PixelType { return b.Type }
func (b *Int64Band) Size() (int, int) { return b.Width, b.Height }
func (b *Int64Band) Len() int { return len(b.Data) }
func (b *Int64Band) Float64At(i int) float64 { return float64(b.Data[i]) }

type Float32Band struct {
	Data          []float32
	Width, Height int
}

func (b *Float32Band) SourceType() PixelType { return Float32 }
func (b *Float32Band) Size() (int, int) { return b.Width, b.Height }
func (b *Float32Band) Len() int { return len(b.Data) }
func (b *Float32Band) Float64At(i int) float64 { return float64(b.Data[i]) }

// Float64Band also carries the output of band expressions.
type Float64Band struct {
	Data          []float64
	Width, Height int
}

func (b *Float64Band) SourceType() PixelType { return Float64 }
func (b *Float64Band) Size() (int, int) { return b.Width, b.Height }
func (b *Float64Band) Len() int { return len(b.Data) }
func (b *Float64Band) Float64At(i int) float64 { return b.Data[i] }
