package processor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Raw band buffers are always little-endian, whatever the host order.
var bandOrder = binary.LittleEndian

// BandByteSize is the exact raw buffer length of one band over win.
func BandByteSize(win PixelWindow, pt PixelType) int {
	return win.Size() * pt.ByteWidth()
}

// DecodeBand decodes one band read over win. raw must hold exactly
// win.Width*win.Height samples of pt in row-major little-endian order;
// any other length fails with ErrSizeMismatch and nothing is decoded.
// The returned band owns its buffer.
func DecodeBand(raw []byte, win PixelWindow, pt PixelType) (DecodedBand, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: pixel type %v", ErrInvalidDataset, pt)
	}
	if win.Width < 1 || win.Height < 1 {
		return nil, fmt.Errorf("%w: %v", ErrEmptyWindow, win)
	}

	n := win.Size()
	expected := n * pt.ByteWidth()
	if len(raw) != expected {
		return nil, fmt.Errorf("%w: %v over %v requires %d bytes, got %d", ErrSizeMismatch, pt, win, expected, len(raw))
	}

	switch pt {
	case Byte:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(raw[i])
		}
		return &Int32Band{Type: pt, Data: out, Width: win.Width, Height: win.Height}, nil

	case UInt16:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(bandOrder.Uint16(raw[i*2:]))
		}
		return &Int32Band{Type: pt, Data: out, Width: win.Width, Height: win.Height}, nil

	case Int16:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(int16(bandOrder.Uint16(raw[i*2:])))
		}
		return &Int32Band{Type: pt, Data: out, Width: win.Width, Height: win.Height}, nil

	case Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(bandOrder.Uint32(raw[i*4:]))
		}
		return &Int32Band{Type: pt, Data: out, Width: win.Width, Height: win.Height}, nil

	case UInt32:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(bandOrder.Uint32(raw[i*4:]))
		}
		return &Int64Band{Type: pt, Data: out, Width: win.Width, Height: win.Height}, nil

	case Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(bandOrder.Uint32(raw[i*4:]))
		}
		return &Float32Band{Data: out, Width: win.Width, Height: win.Height}, nil

	case Float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(bandOrder.Uint64(raw[i*8:]))
		}
		return &Float64Band{Data: out, Width: win.Width, Height: win.Height}, nil
	}

	return nil, fmt.Errorf("%w: pixel type %v", ErrInvalidDataset, pt)
}

// EncodeBand writes a decoded band back into the raw little-endian layout
// of its source pixel type. DecodeBand(EncodeBand(b), ...) reproduces b.
func EncodeBand(b DecodedBand) ([]byte, error) {
	pt := b.SourceType()
	out := make([]byte, b.Len()*pt.ByteWidth())

	switch t := b.(type) {
	case *Int32Band:
		switch pt {
		case Byte:
			for i, v := range t.Data {
				out[i] = uint8(v)
			}
		case UInt16, Int16:
			for i, v := range t.Data {
				bandOrder.PutUint16(out[i*2:], uint16(v))
			}
		case Int32:
			for i, v := range t.Data {
				bandOrder.PutUint32(out[i*4:], uint32(v))
			}
		default:
			return nil, fmt.Errorf("cannot encode %v samples from an int32 band", pt)
		}
	case *Int64Band:
		if pt != UInt32 {
			return nil, fmt.Errorf("cannot encode %v samples from an int64 band", pt)
		}
		for i, v := range t.Data {
			bandOrder.PutUint32(out[i*4:], uint32(v))
		}
	case *Float32Band:
		for i, v := range t.Data {
			bandOrder.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case *Float64Band:
		for i, v := range t.Data {
			bandOrder.PutUint64(out[i*8:], math.Float64bits(v))
		}
	default:
		return nil, fmt.Errorf("band type %T not implemented", b)
	}
	return out, nil
}
