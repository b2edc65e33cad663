package notification

import (
	"context"
	"time"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	domoutbox "github.com/Zhima-Mochi/minishop-cart/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"
)

const publishTimeout = 300 * time.Millisecond

// Notifier hands notifications to the event bus and returns immediately.
type Notifier struct {
	publisher domoutbox.Publisher
	log       observability.Logger
}

func NewNotifier(publisher domoutbox.Publisher, logger observability.Logger) *Notifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Notifier{
		publisher: publisher,
		log:       logger.With(observability.F("component", "notifier")),
	}
}

func (n *Notifier) Notify(ctx context.Context, e domcart.NotificationEvent) {
	logger := logctx.FromOr(ctx, n.log)
	if n.publisher == nil {
		logger.Warn("notification_dropped", observability.F("message", e.Message))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.publisher.Publish(pubCtx, e); err != nil {
		logger.Warn("notification_publish_failed",
			observability.F("reason", e.Reason),
			observability.F("message", e.Message),
			observability.F("error", err.Error()),
		)
	}
}
