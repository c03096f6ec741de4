package damcache

import (
	"context"
	"errors"

	"github.com/Borislavv/go-dam-cache/internal/codec"
	"github.com/Borislavv/go-dam-cache/model"
)

var ErrOffline = errors.New("no entity source configured")

// offline serves nothing: every call fails with ErrOffline, so only cached entities are readable.
type offline struct{ codec.JSON }

func (offline) Fetch(context.Context, model.Key) (*model.Entity, error) { return nil, ErrOffline }

func (offline) QueryIDs(context.Context, model.Filter) ([]string, error) { return nil, ErrOffline }

func (offline) Query(context.Context, string) ([]model.Record, error) { return nil, ErrOffline }
