package storage

import (
	"sync"

	"github.com/raphi011/proberun/internal/model"
)

// URLCache keeps url rows by their url so repeated lookups during a run
// don't hit the database.
type URLCache struct {
	m sync.Map
}

func NewURLCache() *URLCache {
	return &URLCache{}
}

func (c *URLCache) Save(u model.URL) {
	c.m.Store(u.URL, u)
}

func (c *URLCache) Load(url string) (model.URL, error) {
	val, ok := c.m.Load(url)
	if !ok {
		return model.URL{}, model.NotFoundError{}
	}

	return val.(model.URL), nil
}
