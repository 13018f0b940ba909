// Package host resolves the label attached to every exported series.
package host

import (
	"context"
	"errors"
	"os"
)

// A Resolver produces the host label. It runs once, at configuration time.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always resolves to name.
func Static(name string) Resolver {
	return ResolverFunc(func(context.Context) (string, error) {
		if name == "" {
			return "", errors.New("empty host name")
		}
		return name, nil
	})
}

// Hostname resolves to the name reported by the kernel.
func Hostname() Resolver {
	return ResolverFunc(func(context.Context) (string, error) {
		return os.Hostname()
	})
}
