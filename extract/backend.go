package extract

import (
	"context"
	"fmt"
)

// Backend is one concrete PDF extraction implementation. Extract either
// returns a fully populated Result or an error; partial results are not
// returned.
type Backend interface {
	Name() string
	Extract(ctx context.Context, data []byte) (*Result, error)
}

// Descriptor describes a backend's position in the fallback chain.
type Descriptor struct {
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Terminal   bool   `json:"terminal"`
}

// attempt runs a single backend with panic isolation. A misbehaving parser
// must not take down the chain; a recovered panic is reported as that
// backend's failure.
func attempt(ctx context.Context, b Backend, data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Extract(ctx, data)
}
