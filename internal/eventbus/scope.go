package eventbus

import (
	"context"
	"reflect"
)

// Resolver creates short-lived resolution scopes. One scope is created per
// consumed message.
type Resolver interface {
	NewScope(ctx context.Context) (Scope, error)
}

// Scope resolves instances for the lifetime of a single message.
type Scope interface {
	// Resolve returns an instance of t or an error wrapping ErrNotResolvable.
	Resolve(t reflect.Type) (any, error)

	// Close releases every instance created by the scope.
	Close() error
}
