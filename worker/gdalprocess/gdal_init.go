package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #cgo pkg-config: gdal
import "C"

import (
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

// preferredDrivers are registered ahead of all others because GDAL
// interrogates drivers in a linear scan when opening a file.
var preferredDrivers = []string{"GRASS", "GTiff", "EHdr"}

var initOnce sync.Once

// InitGdal sets GDAL's default environment and registers its drivers. It
// is safe to call more than once.
func InitGdal() {
	initOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "64")

		exeFilePath, err := os.Executable()
		if err == nil {
			setDefaultEnv("GDAL_DRIVER_PATH", filepath.Dir(exeFilePath))
		}

		registerGDALDrivers()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}

func registerGDALDrivers() {
	// Find out which drivers are present
	C.GDALAllRegister()
	found := make(map[string]C.GDALDriverH)
	for i := 0; i < int(C.GDALGetDriverCount()); i++ {
		driver := C.GDALGetDriver(C.int(i))
		found[C.GoString(C.GDALGetDriverShortName(driver))] = driver
	}

	// De-register all the drivers again
	for n := int(C.GDALGetDriverCount()); n > 0; n = int(C.GDALGetDriverCount()) {
		C.GDALDeregisterDriver(C.GDALGetDriver(0))
	}

	for _, name := range preferredDrivers {
		if driver, ok := found[name]; ok {
			C.GDALRegisterDriver(driver)
		}
	}

	// Now register everything else
	for _, driver := range found {
		C.GDALRegisterDriver(driver)
	}
}

// DriverAvailable reports whether GDAL has a registered driver with the
// given short name, e.g. "GRASS".
func DriverAvailable(name string) bool {
	InitGdal()
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	return C.GDALGetDriverByName(cName) != nil
}
