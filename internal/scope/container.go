// Package scope is a small scoped service container. Each Scope builds its
// own instances, so nothing resolved in one scope is visible to another.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"

	"eventbus/internal/eventbus"
)

// Factory builds an instance inside s.
type Factory func(s *Scope) (any, error)

// Container holds factories keyed by the type they produce.
type Container struct {
	mu        sync.RWMutex
	factories map[reflect.Type]Factory
}

func New() *Container {
	return &Container{factories: make(map[reflect.Type]Factory)}
}

// Provide registers f as the factory for t, replacing any previous one.
func (c *Container) Provide(t reflect.Type, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[t] = f
}

// Provide registers a typed factory for T.
func Provide[T any](c *Container, f func(s *Scope) (T, error)) {
	c.Provide(reflect.TypeFor[T](), func(s *Scope) (any, error) {
		return f(s)
	})
}

// NewScope implements eventbus.Resolver.
func (c *Container) NewScope(context.Context) (eventbus.Scope, error) {
	return c.Scope(), nil
}

// Scope opens a new scope.
func (c *Container) Scope() *Scope {
	return &Scope{
		container: c,
		instances: make(map[reflect.Type]any),
	}
}

func (c *Container) factory(t reflect.Type) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.factories[t]
	return f, ok
}

// Scope caches one instance per type until Close.
type Scope struct {
	container *Container

	mu        sync.Mutex
	instances map[reflect.Type]any
	resolving []reflect.Type
	closers   []io.Closer
	closed    bool
}

// Resolve implements eventbus.Scope. Factories may resolve further types from
// the same scope; a dependency cycle is reported as an error.
func (s *Scope) Resolve(t reflect.Type) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scope: resolve %s: %w", t, eventbus.ErrClosed)
	}
	if v, ok := s.instances[t]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if slices.Contains(s.resolving, t) {
		s.mu.Unlock()
		return nil, fmt.Errorf("scope: dependency cycle resolving %s", t)
	}
	s.resolving = append(s.resolving, t)
	s.mu.Unlock()

	v, err := s.build(t)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving = slices.DeleteFunc(s.resolving, func(r reflect.Type) bool { return r == t })
	if err != nil {
		return nil, err
	}

	s.instances[t] = v
	if closer, ok := v.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}

	return v, nil
}

func (s *Scope) build(t reflect.Type) (any, error) {
	f, ok := s.container.factory(t)
	if !ok {
		return nil, fmt.Errorf("scope: %s: %w", t, eventbus.ErrNotResolvable)
	}

	v, err := f(s)
	if err != nil {
		return nil, fmt.Errorf("scope: failed to build %s: %w", t, err)
	}
	if v == nil {
		return nil, fmt.Errorf("scope: factory for %s returned nil: %w", t, eventbus.ErrNotResolvable)
	}

	return v, nil
}

// Close closes every io.Closer the scope built, newest first.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.instances = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Resolve returns the instance of T from s.
func Resolve[T any](s *Scope) (T, error) {
	var zero T

	v, err := s.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("scope: instance %T is not %s", v, reflect.TypeFor[T]())
	}

	return t, nil
}

var (
	_ eventbus.Resolver = (*Container)(nil)
	_ eventbus.Scope    = (*Scope)(nil)
)
