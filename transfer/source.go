// Package transfer drains Close collections, rewrites records between organizations and
// replays them as create/update calls.
//
// The pieces compose as Fetcher → (Transform ↔ Mapping) → Writer. All of them talk to
// the remote API through the Source interface, which *closeio.RequestHelper implements.
package transfer

import (
	"context"
	"net/url"

	"github.com/ellogroup/ello-golang-closeio/closeio"
)

type Lister interface {
	List(ctx context.Context, path string, params url.Values) (*closeio.Page[closeio.Record], error)
}

type Mutator interface {
	Create(ctx context.Context, path string, payload closeio.Record) (closeio.Record, error)
	Update(ctx context.Context, path string, payload closeio.Record) (closeio.Record, error)
}

// Source is the subset of the Close API the transfer engine needs.
type Source interface {
	Lister
	Mutator
	Get(ctx context.Context, path string, params url.Values) (closeio.Record, error)
	Delete(ctx context.Context, path string) error
}

var _ Source = (*closeio.RequestHelper)(nil)
