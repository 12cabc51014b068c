package imagery

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/nci/gomemcache/memcache"
	"github.com/nci/rasterchunk/tiling"
)

// ImageInfo is what is remembered about an opened image.
type ImageInfo struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	NumBands int `json:"num_bands"`
}

func (i ImageInfo) Size() tiling.ImageSize {
	return tiling.ImageSize{Width: i.Width, Height: i.Height}
}

// InfoCache remembers image info by source path. Misses are never errors.
type InfoCache interface {
	Get(path string) (ImageInfo, bool)
	Put(path string, info ImageInfo)
}

type MemoryInfoCache struct {
	mu    sync.RWMutex
	infos map[string]ImageInfo
}

func NewMemoryInfoCache() *MemoryInfoCache {
	return &MemoryInfoCache{infos: make(map[string]ImageInfo)}
}

func (c *MemoryInfoCache) Get(path string) (ImageInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[path]
	return info, ok
}

func (c *MemoryInfoCache) Put(path string, info ImageInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[path] = info
}

// MemcacheInfoCache shares image info between processes through memcached.
type MemcacheInfoCache struct {
	mc *memcache.Client
}

func NewMemcacheInfoCache(servers ...string) *MemcacheInfoCache {
	return &MemcacheInfoCache{mc: memcache.New(servers...)}
}

func infoKey(path string) string {
	buff := md5.Sum([]byte("rasterchunk:info:" + path))
	return hex.EncodeToString(buff[:])
}

func (c *MemcacheInfoCache) Get(path string) (ImageInfo, bool) {
	var info ImageInfo
	item, err := c.mc.Get(infoKey(path))
	if err != nil {
		return info, false
	}
	if err := json.Unmarshal(item.Value, &info); err != nil {
		return info, false
	}
	return info, true
}

func (c *MemcacheInfoCache) Put(path string, info ImageInfo) {
	value, err := json.Marshal(&info)
	if err != nil {
		return
	}
	// Failed sets only cost a reopen later.
	c.mc.Set(&memcache.Item{Key: infoKey(path), Value: value})
}
