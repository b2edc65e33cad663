package notification

import (
	"context"
	"time"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	domoutbox "github.com/Zhima-Mochi/minishop-cart/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"
)

const (
	workerService    = "notification-worker"
	useCaseToast     = "notification.worker.toast"
	useCaseCommitted = "notification.worker.cart_committed"
)

// handlerMetrics are the RED instruments of one handler, bound to its use case.
type handlerMetrics struct {
	succeeded observability.BoundCounter
	ignored   observability.BoundCounter
	duration  observability.BoundHistogram
}

func bindHandlerMetrics(m observability.Metrics, useCase string) handlerMetrics {
	requests := m.Counter(observability.MUsecaseRequests)
	return handlerMetrics{
		succeeded: requests.Bind(observability.L("use_case", useCase), observability.L("outcome", "success")),
		ignored:   requests.Bind(observability.L("use_case", useCase), observability.L("outcome", "ignored")),
		duration:  m.Histogram(observability.MUsecaseDuration).Bind(observability.L("use_case", useCase)),
	}
}

func (m handlerMetrics) success(latencySeconds float64) {
	m.succeeded.Add(1)
	m.duration.Observe(latencySeconds)
}

func (m handlerMetrics) skip() {
	m.ignored.Add(1)
	m.duration.Observe(0)
}

// Worker moves notification events into the toast feed and keeps an audit log of commits.
type Worker struct {
	subscriber domoutbox.Subscriber
	feed       *Feed
	mws        []domoutbox.Middleware

	log       observability.Logger
	toast     handlerMetrics
	committed handlerMetrics
}

func NewWorker(subscriber domoutbox.Subscriber, feed *Feed, tel observability.Observability, mws ...domoutbox.Middleware) *Worker {
	logger := observability.NopLogger()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		logger = tel.Logger()
		metricsProvider = tel.Metrics()
	}
	return &Worker{
		subscriber: subscriber,
		feed:       feed,
		mws:        mws,
		log:        logger.With(observability.F("service", workerService)),
		toast:      bindHandlerMetrics(metricsProvider, useCaseToast),
		committed:  bindHandlerMetrics(metricsProvider, useCaseCommitted),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.feed == nil {
		return
	}
	w.subscriber.Subscribe(domcart.NotificationEvent{}.EventName(), domoutbox.Chain(w.handleNotification, w.mws...))
	w.subscriber.Subscribe(domcart.CommittedEvent{}.EventName(), domoutbox.Chain(w.handleCommitted, w.mws...))
}

func (w *Worker) handleNotification(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domcart.NotificationEvent)
	if !ok {
		w.toast.skip()
		return nil
	}
	start := time.Now()

	w.feed.Append(Toast{
		ID:        evt.EventID,
		Operation: evt.Operation,
		ProductID: evt.ProductID,
		Reason:    evt.Reason,
		Message:   evt.Message,
		At:        evt.OccurredAt,
	})

	logctx.FromOr(ctx, w.log).Info("toast_error",
		observability.F("use_case", useCaseToast),
		observability.F("operation", evt.Operation),
		observability.F("product_id", evt.ProductID),
		observability.F("reason", evt.Reason),
		observability.F("message", evt.Message),
	)
	w.toast.success(time.Since(start).Seconds())
	return nil
}

func (w *Worker) handleCommitted(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domcart.CommittedEvent)
	if !ok {
		w.committed.skip()
		return nil
	}

	logctx.FromOr(ctx, w.log).Info("cart_committed",
		observability.F("use_case", useCaseCommitted),
		observability.F("operation", evt.Operation),
		observability.F("product_id", evt.ProductID),
		observability.F("items", evt.Items),
		observability.F("units", evt.Units),
	)
	w.committed.success(0)
	return nil
}
