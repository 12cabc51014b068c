package imagery

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Cache is a folder holding prepared copies of source images, keyed by
// name. It is owned by one dataset for that dataset's lifetime.
type Cache interface {
	Folder() string
	// Lookup returns the path of a registered entry still on disk.
	Lookup(name string) (string, bool)
	// Register records name as the most recently used entry and applies
	// the eviction policy.
	Register(name string) (string, error)
}

// EvictFunc chooses which entries to drop once more than limit are
// registered. entries are ordered least recently registered first.
type EvictFunc func(entries []string, limit int) []string

// FolderCache is a Cache over a local directory. Without an EvictFunc it
// never removes entries and only reports when the limit is exceeded.
type FolderCache struct {
	dir     string
	limit   int
	evict   EvictFunc
	verbose bool

	mu      sync.Mutex
	entries []string
}

// NewFolderCache creates dir if needed and adopts the entries already in
// it, oldest first.
func NewFolderCache(dir string, limit int, evict EvictFunc, verbose bool) (*FolderCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating cache folder %s", dir)
	}

	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache folder %s", dir)
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].ModTime().Before(infos[j].ModTime()) })

	c := &FolderCache{dir: dir, limit: limit, evict: evict, verbose: verbose}
	for _, info := range infos {
		if len(info.Name()) > 0 && info.Name()[0] == '.' {
			continue
		}
		c.entries = append(c.entries, info.Name())
	}
	return c, nil
}

func (c *FolderCache) Folder() string {
	return c.dir
}

func (c *FolderCache) Lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index(name) < 0 {
		return "", false
	}
	path := filepath.Join(c.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func (c *FolderCache) Register(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.index(name); i >= 0 {
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
	}
	c.entries = append(c.entries, name)

	if len(c.entries) > c.limit {
		if c.evict == nil {
			if c.verbose {
				log.Printf("cache: %d entries in %s exceed limit %d", len(c.entries), c.dir, c.limit)
			}
		} else {
			for _, victim := range c.evict(append([]string(nil), c.entries...), c.limit) {
				if victim == name {
					continue
				}
				if err := os.RemoveAll(filepath.Join(c.dir, victim)); err != nil {
					return "", errors.Wrapf(err, "evicting %s", victim)
				}
				if i := c.index(victim); i >= 0 {
					c.entries = append(c.entries[:i], c.entries[i+1:]...)
				}
				if c.verbose {
					log.Printf("cache: evicted %s", victim)
				}
			}
		}
	}
	return filepath.Join(c.dir, name), nil
}

func (c *FolderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *FolderCache) index(name string) int {
	for i, e := range c.entries {
		if e == name {
			return i
		}
	}
	return -1
}
