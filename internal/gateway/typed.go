package gateway

import (
	"context"
	"fmt"
)

// Resolver is anything that resolves descriptors; *Gateway implements it.
type Resolver interface {
	Resolve(ctx context.Context, d Descriptor) (Result, error)
}

// ResolveAs resolves d and asserts the payload type.
func ResolveAs[T any](ctx context.Context, r Resolver, d Descriptor) (T, Result, error) {
	var zero T
	res, err := r.Resolve(ctx, d)
	if err != nil {
		return zero, res, err
	}
	v, ok := res.Data.(T)
	if !ok {
		return zero, res, fmt.Errorf("gateway: %s resolved to %T, want %T", d.Class, res.Data, zero)
	}
	return v, res, nil
}

var _ Resolver = (*Gateway)(nil)
