package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RuntimeFileResolver finds relative dataset files in a list of data
// directories: the configured search path first, then the working
// directory and the executable's directory.
type RuntimeFileResolver struct {
	DataDirs []string

	mu         sync.Mutex
	fileLookup map[string]string
}

// NewRuntimeFileResolver takes a colon separated search path.
func NewRuntimeFileResolver(searchPath string) *RuntimeFileResolver {
	resolver := &RuntimeFileResolver{
		fileLookup: make(map[string]string),
	}

	for _, dataDir := range strings.Split(searchPath, ":") {
		dataDir = strings.TrimSpace(dataDir)
		if len(dataDir) == 0 {
			continue
		}
		resolver.DataDirs = append(resolver.DataDirs, dataDir)
	}

	if cwd, err := os.Getwd(); err == nil {
		resolver.DataDirs = append(resolver.DataDirs, cwd)
	}
	resolver.DataDirs = append(resolver.DataDirs, filepath.Dir(os.Args[0]))
	return resolver
}

// Resolve returns the first existing match of filePath. Absolute paths
// are only checked for existence.
func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		return filePath, checkFile(filePath)
	}

	for _, dataDir := range r.DataDirs {
		path := filepath.Clean(filepath.Join(dataDir, filePath))
		if checkFile(path) == nil {
			return path, nil
		}
	}

	return filePath, fmt.Errorf("Failed to resolve %v", filePath)
}

// Lookup is Resolve with the successful results remembered.
func (r *RuntimeFileResolver) Lookup(filePath string) (string, error) {
	r.mu.Lock()
	path, found := r.fileLookup[filePath]
	r.mu.Unlock()
	if found {
		return path, nil
	}

	path, err := r.Resolve(filePath)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.fileLookup[filePath] = path
	r.mu.Unlock()
	return path, nil
}

func checkFile(filePath string) error {
	_, err := os.Stat(filePath)
	return err
}
