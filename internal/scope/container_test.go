package scope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbus/internal/eventbus"
)

type repo struct {
	closed bool
}

func (r *repo) Close() error {
	r.closed = true
	return nil
}

type service struct {
	repo *repo
}

func newContainer() *Container {
	c := New()
	Provide(c, func(*Scope) (*repo, error) { return &repo{}, nil })
	Provide(c, func(s *Scope) (*service, error) {
		r, err := Resolve[*repo](s)
		if err != nil {
			return nil, err
		}
		return &service{repo: r}, nil
	})
	return c
}

func TestScopeCachesWithinScopeOnly(t *testing.T) {
	c := newContainer()

	s1 := c.Scope()
	a, err := Resolve[*service](s1)
	require.NoError(t, err)
	b, err := Resolve[*service](s1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	s2 := c.Scope()
	other, err := Resolve[*service](s2)
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.NotSame(t, a.repo, other.repo)
}

func TestScopeCloseReleasesInstances(t *testing.T) {
	c := newContainer()
	s := c.Scope()

	svc, err := Resolve[*service](s)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, svc.repo.closed)
	require.NoError(t, s.Close())

	_, err = Resolve[*service](s)
	require.ErrorIs(t, err, eventbus.ErrClosed)
}

func TestScopeUnknownType(t *testing.T) {
	s := New().Scope()

	_, err := Resolve[*service](s)
	require.ErrorIs(t, err, eventbus.ErrNotResolvable)
}

func TestScopeFactoryError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	Provide(c, func(*Scope) (*repo, error) { return nil, boom })

	_, err := Resolve[*repo](c.Scope())
	require.ErrorIs(t, err, boom)
}

func TestScopeDetectsCycle(t *testing.T) {
	c := New()
	Provide(c, func(s *Scope) (*repo, error) {
		_, err := Resolve[*repo](s)
		return nil, err
	})

	_, err := Resolve[*repo](c.Scope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}
