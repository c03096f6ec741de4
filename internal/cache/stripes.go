package cache

import (
	"sync"

	"github.com/Borislavv/go-dam-cache/model"
	"github.com/zeebo/xxh3"
)

const stripesNum = 256 // power of two

// stripe serializes the read-modify-write of every key hashed onto it.
// gen advances on each refresh or invalidation of any of those keys.
type stripe struct {
	sync.Mutex
	gen uint64
}

type stripes [stripesNum]stripe

func newStripes() *stripes { return new(stripes) }

func (s *stripes) of(key model.Key) *stripe {
	return &s[xxh3.HashString(key.RawString())&(stripesNum-1)]
}
