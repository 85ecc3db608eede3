package eventbus

import (
	"context"

	"go.uber.org/zap"
)

// Handler consumes events of type E.
type Handler[E Event] interface {
	Handle(ctx context.Context, event E) error
}

// EventProcessor is the business step a BaseHandler wraps.
type EventProcessor[E Event] interface {
	ProcessEvent(ctx context.Context, event E) error
}

// BaseHandler implements Handler around an EventProcessor. It logs every event
// before processing and logs failures before returning them unchanged.
//
// Concrete handlers embed it and pass themselves as the processor:
//
//	h := &OrderCreatedHandler{}
//	h.BaseHandler = eventbus.NewBaseHandler[*OrderCreatedEvent](logger, h)
type BaseHandler[E Event] struct {
	logger    *zap.Logger
	processor EventProcessor[E]
}

func NewBaseHandler[E Event](logger *zap.Logger, processor EventProcessor[E]) BaseHandler[E] {
	return BaseHandler[E]{
		logger:    logger,
		processor: processor,
	}
}

// Handle implements Handler.
func (h BaseHandler[E]) Handle(ctx context.Context, event E) error {
	logger := h.logger.With(
		zap.String("eventType", TypeName[E]()),
		zap.Stringer("eventId", event.EventID()),
	)
	logger.Info("handling integration event", zap.Any("event", event))

	if err := h.processor.ProcessEvent(ctx, event); err != nil {
		logger.Error("failed to process integration event", zap.Error(err))
		return err
	}

	return nil
}
