package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "cpl_error.h"
// #cgo pkg-config: gdal
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/nci/rastex/processor"
	"github.com/rs/zerolog"
)

var pixelTypes = map[C.GDALDataType]processor.PixelType{
	C.GDT_Byte:    processor.Byte,
	C.GDT_UInt16:  processor.UInt16,
	C.GDT_Int16:   processor.Int16,
	C.GDT_UInt32:  processor.UInt32,
	C.GDT_Int32:   processor.Int32,
	C.GDT_Float32: processor.Float32,
	C.GDT_Float64: processor.Float64,
}

var gdalTypes = map[processor.PixelType]C.GDALDataType{
	processor.Byte:    C.GDT_Byte,
	processor.UInt16:  C.GDT_UInt16,
	processor.Int16:   C.GDT_Int16,
	processor.UInt32:  C.GDT_UInt32,
	processor.Int32:   C.GDT_Int32,
	processor.Float32: C.GDT_Float32,
	processor.Float64: C.GDT_Float64,
}

var bigEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 0
}()

// openMu serialises dataset opens and closes. Shared GDAL handles are
// reference counted and the shared list is not safe for concurrent use.
var openMu sync.Mutex

// handleLocks guards band reads on each shared handle, which every source
// opened on the same file may hold at once.
var handleLocks = make(map[C.GDALDatasetH]*handleLock)

type handleLock struct {
	sync.Mutex
	refs int
}

// acquireHandleLock must be called with openMu held.
func acquireHandleLock(hDS C.GDALDatasetH) *handleLock {
	l, found := handleLocks[hDS]
	if !found {
		l = &handleLock{}
		handleLocks[hDS] = l
	}
	l.refs++
	return l
}

func lastGDALError() string {
	return C.GoString(C.CPLGetLastErrorMsg())
}

// Opener opens raster files with GDAL. It implements
// processor.SourceOpener.
type Opener struct {
	// Drivers restricts the GDAL drivers accepted for a file. Empty
	// accepts any driver.
	Drivers []string
	Log     *zerolog.Logger
	Verbose bool
}

func NewOpener(log *zerolog.Logger, verbose bool, drivers ...string) *Opener {
	InitGdal()
	return &Opener{Drivers: drivers, Log: log, Verbose: verbose}
}

func (o *Opener) Open(ctx context.Context, path string) (processor.BandSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	openMu.Lock()
	hDS := C.GDALOpenShared(cPath, C.GA_ReadOnly)
	if hDS == nil {
		openMu.Unlock()
		return nil, fmt.Errorf("GDALOpenShared(%s) failed: %s", path, lastGDALError())
	}
	src := &source{path: path, hDS: hDS, lock: acquireHandleLock(hDS)}
	openMu.Unlock()

	driver := C.GoString(C.GDALGetDriverShortName(C.GDALGetDatasetDriver(hDS)))
	if !o.driverAllowed(driver) {
		src.Close()
		return nil, fmt.Errorf("%w: %s is a %s dataset", processor.ErrInvalidDataset, path, driver)
	}

	desc, err := describe(hDS)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.desc = desc

	if o.Verbose && o.Log != nil {
		o.Log.Debug().Str("file", path).Str("driver", driver).Int("x_size", desc.Width).
			Int("y_size", desc.Height).Stringer("type", desc.PixelType).Msg("opened")
	}
	return src, nil
}

func (o *Opener) driverAllowed(driver string) bool {
	if len(o.Drivers) == 0 {
		return true
	}
	for _, d := range o.Drivers {
		if d == driver {
			return true
		}
	}
	return false
}

// Probe opens path just long enough to read its descriptor.
func Probe(path string) (processor.RasterDescriptor, error) {
	src, err := NewOpener(nil, false).Open(context.Background(), path)
	if err != nil {
		return processor.RasterDescriptor{}, err
	}
	desc := src.Descriptor()
	return desc, src.Close()
}

func describe(hDS C.GDALDatasetH) (processor.RasterDescriptor, error) {
	var geot [6]C.double
	if C.GDALGetGeoTransform(hDS, &geot[0]) != C.CE_None {
		return processor.RasterDescriptor{}, fmt.Errorf("%w: no geotransform", processor.ErrInvalidDataset)
	}

	nBands := int(C.GDALGetRasterCount(hDS))
	if nBands < 1 {
		return processor.RasterDescriptor{}, fmt.Errorf("%w: no raster bands", processor.ErrInvalidDataset)
	}

	dType := C.GDALGetRasterDataType(C.GDALGetRasterBand(hDS, 1))
	pt, found := pixelTypes[dType]
	if !found {
		name := C.GoString(C.GDALGetDataTypeName(dType))
		return processor.RasterDescriptor{}, fmt.Errorf("%w: unsupported pixel type %s", processor.ErrInvalidDataset, name)
	}

	gt := make([]float64, 6)
	for i := range gt {
		gt[i] = float64(geot[i])
	}
	crs := C.GoString(C.GDALGetProjectionRef(hDS))
	return processor.NewRasterDescriptor(gt, int(C.GDALGetRasterXSize(hDS)), int(C.GDALGetRasterYSize(hDS)), nBands, pt, crs)
}

type source struct {
	path string
	desc processor.RasterDescriptor

	lock   *handleLock
	hDS    C.GDALDatasetH
	closed bool
}

func (s *source) Descriptor() processor.RasterDescriptor {
	return s.desc
}

// ReadBand reads one band over win in the dataset's own pixel type and
// returns it little-endian.
func (s *source) ReadBand(win processor.PixelWindow, band int) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%s: dataset is closed", s.path)
	}
	if band < 0 || band >= s.desc.BandCount {
		return nil, fmt.Errorf("%w: band %d of %d", processor.ErrBandIndex, band, s.desc.BandCount)
	}
	if win.Width < 1 || win.Height < 1 {
		return nil, fmt.Errorf("%w: %v", processor.ErrEmptyWindow, win)
	}

	hBand := C.GDALGetRasterBand(s.hDS, C.int(band+1))
	if hBand == nil {
		return nil, fmt.Errorf("GDALGetRasterBand(%d) failed: %s", band+1, lastGDALError())
	}

	width := s.desc.PixelType.ByteWidth()
	buf := make([]byte, win.Size()*width)
	cErr := C.GDALRasterIO(hBand, C.GF_Read, C.int(win.OffX), C.int(win.OffY), C.int(win.Width), C.int(win.Height),
		unsafe.Pointer(&buf[0]), C.int(win.Width), C.int(win.Height), gdalTypes[s.desc.PixelType], 0, 0)
	if cErr != C.CE_None {
		return nil, fmt.Errorf("GDALRasterIO(%s, band %d, %v) failed: %s", s.path, band+1, win, lastGDALError())
	}

	if bigEndianHost && width > 1 {
		C.GDALSwapWords(unsafe.Pointer(&buf[0]), C.int(width), C.int(win.Size()), C.int(width))
	}
	return buf, nil
}

func (s *source) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	openMu.Lock()
	defer openMu.Unlock()
	C.GDALClose(s.hDS)
	s.lock.refs--
	if s.lock.refs == 0 {
		delete(handleLocks, s.hDS)
	}
	return nil
}
