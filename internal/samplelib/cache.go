package samplelib

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/facelab/internal/mplib"
	"github.com/andresmejia3/facelab/internal/types"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes loaded sample lists per dataset path and sample type.
// Its lifetime is whoever owns it; concurrent loads of the same entry
// share one build.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*[types.SampleTypeQty]*mplib.SharedList
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*[types.SampleTypeQty]*mplib.SharedList)}
}

func cacheKey(path string) string {
	return filepath.Clean(path)
}

// Get returns the cached list, or nil.
func (c *Cache) Get(t types.SampleType, path string) *mplib.SharedList {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slots, ok := c.entries[cacheKey(path)]; ok {
		return slots[t]
	}
	return nil
}

func (c *Cache) set(t types.SampleType, path string, l *mplib.SharedList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(path)
	slots, ok := c.entries[key]
	if !ok {
		slots = new([types.SampleTypeQty]*mplib.SharedList)
		c.entries[key] = slots
	}
	slots[t] = l
}

// getOrBuild returns the cached list or runs build once for all concurrent callers.
func (c *Cache) getOrBuild(t types.SampleType, path string, build func() (*mplib.SharedList, error)) (*mplib.SharedList, error) {
	if l := c.Get(t, path); l != nil {
		return l, nil
	}
	v, err, _ := c.group.Do(fmt.Sprintf("%s\x00%d", cacheKey(path), t), func() (any, error) {
		if l := c.Get(t, path); l != nil {
			return l, nil
		}
		l, err := build()
		if err != nil {
			return nil, err
		}
		c.set(t, path, l)
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mplib.SharedList), nil
}
