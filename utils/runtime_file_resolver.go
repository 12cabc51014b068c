package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// RuntimeFileResolver maps relative source paths found in a manifest to
// files on disk by trying each data directory in turn.
type RuntimeFileResolver struct {
	DataDirs []string

	mu         sync.RWMutex
	fileLookup map[string]string
}

// NewRuntimeFileResolver builds a resolver from a colon separated search
// path. The working directory is always searched last.
func NewRuntimeFileResolver(searchPath string, extraDirs ...string) *RuntimeFileResolver {
	resolver := &RuntimeFileResolver{
		fileLookup: make(map[string]string),
	}

	searchPathList := strings.Split(searchPath, ":")
	searchPathList = append(searchPathList, extraDirs...)
	for _, dataDir := range searchPathList {
		dataDir = strings.TrimSpace(dataDir)
		if len(dataDir) == 0 {
			continue
		}
		resolver.DataDirs = append(resolver.DataDirs, dataDir)
	}

	cwd, err := os.Getwd()
	if err == nil {
		resolver.DataDirs = append(resolver.DataDirs, cwd)
	} else {
		log.Printf("Failed to get CWD: %v", err)
	}

	return resolver
}

func (r *RuntimeFileResolver) Resolve(filePath string) (string, error) {
	if filepath.IsAbs(filePath) {
		err := checkFile(filePath)
		return filePath, err
	}

	for _, dataDir := range r.DataDirs {
		path := filepath.Clean(filepath.Join(dataDir, filePath))
		err := checkFile(path)
		if err == nil {
			return path, nil
		}
	}

	return filePath, fmt.Errorf("Failed to resolve %v", filePath)
}

// Lookup is Resolve with memoisation. Safe for concurrent use.
func (r *RuntimeFileResolver) Lookup(filePath string) (string, error) {
	r.mu.RLock()
	path, found := r.fileLookup[filePath]
	r.mu.RUnlock()
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
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	return nil
}
