package eventbus

import "errors"

var (
	// ErrNilEvent is returned when a nil event is published.
	ErrNilEvent = errors.New("event must not be nil")
	// ErrNotResolvable is returned by a Scope that has no registration for a type.
	ErrNotResolvable = errors.New("no registration for type")
	// ErrHandlerMismatch is returned when a resolved instance does not implement
	// the handler type it was resolved for.
	ErrHandlerMismatch = errors.New("resolved instance is not the bound handler type")
	// ErrNotSubscribed is returned when unsubscribing a binding with no running loops.
	ErrNotSubscribed = errors.New("binding is not subscribed")
	// ErrInvalidBinding is returned for a Binding not created with Bind.
	ErrInvalidBinding = errors.New("binding must be created with eventbus.Bind")
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")
)
