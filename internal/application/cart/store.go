package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	domoutbox "github.com/Zhima-Mochi/minishop-cart/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	cartService       = "cart-service"
	useCaseAdd        = "cart.add_product"
	useCaseRemove     = "cart.remove_product"
	useCaseUpdate     = "cart.update_amount"
	useCaseLoad       = "cart.load"
	spanPrefix        = "UC."
	publishPeer       = "outbox"
	endpointCommitted = "cart.committed"
	publishTimeout    = 300 * time.Millisecond
	persistTimeout    = 5 * time.Second
)

// Dependencies are the collaborators a Store is built from. Catalog and Slot are required.
type Dependencies struct {
	Catalog   Catalog
	Slot      domcart.Slot
	Notifier  Notifier
	Publisher domoutbox.Publisher
	IDs       IDGenerator
	Telemetry observability.Observability
}

// Store owns the session cart. Mutations are serialized and each one either
// commits fully (slot written, then memory swapped) or leaves both untouched.
type Store struct {
	opMu sync.Mutex // held for a whole operation, remote calls included

	mu   sync.RWMutex
	cart domcart.Cart

	key       string
	catalog   Catalog
	slot      domcart.Slot
	notifier  Notifier
	publisher domoutbox.Publisher
	ids       IDGenerator

	log        observability.Logger
	tracer     observability.Tracer
	reqCounter observability.Counter                   // usecase_requests_total{use_case,outcome}
	durations  map[string]observability.BoundHistogram // usecase_duration_seconds, bound per use case
	extCounter observability.Counter                   // external_requests_total{peer,endpoint,outcome}
	publishDur observability.BoundHistogram            // external_request_duration_seconds for cart.committed
	itemsGauge observability.Gauge                     // cart_items
}

// Load builds a Store from the cart persisted under key. An absent slot yields an
// empty cart; a slot that cannot be read or parsed is an error.
func Load(ctx context.Context, key string, deps Dependencies) (*Store, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart: catalog is required")
	}
	if deps.Slot == nil {
		return nil, errors.New("cart: slot is required")
	}
	if key == "" {
		key = domcart.DefaultKey
	}

	baseLog := observability.NopLogger()
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if deps.Telemetry != nil {
		baseLog = deps.Telemetry.Logger()
		tracer = deps.Telemetry.Tracer()
		metricsProvider = deps.Telemetry.Metrics()
	}

	durHistogram := metricsProvider.Histogram(observability.MUsecaseDuration)
	durations := make(map[string]observability.BoundHistogram, 3)
	for _, useCase := range []string{useCaseAdd, useCaseRemove, useCaseUpdate} {
		durations[useCase] = durHistogram.Bind(observability.L("use_case", useCase))
	}

	s := &Store{
		key:        key,
		catalog:    deps.Catalog,
		slot:       deps.Slot,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		ids:        deps.IDs,
		log:        baseLog.With(observability.F("service", cartService)),
		tracer:     tracer,
		reqCounter: metricsProvider.Counter(observability.MUsecaseRequests),
		durations:  durations,
		extCounter: metricsProvider.Counter(observability.MExternalRequests),
		publishDur: metricsProvider.Histogram(observability.MExternalRequestDuration).Bind(
			observability.L("peer", publishPeer),
			observability.L("endpoint", endpointCommitted),
		),
		itemsGauge: metricsProvider.Gauge(observability.MCartItems),
	}

	raw, ok, err := s.slot.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cart: read slot: %w", err)
	}
	s.cart = domcart.Cart{}
	if ok && raw != "" {
		c, err := domcart.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		s.cart = c
	}
	s.itemsGauge.Set(float64(len(s.cart)))

	logctx.FromOr(ctx, s.log).Info("cart_loaded",
		observability.F("use_case", useCaseLoad),
		observability.F("key", key),
		observability.F("found", ok),
		observability.F("items", len(s.cart)),
	)
	return s, nil
}

// Cart returns a snapshot of the current cart.
func (s *Store) Cart() domcart.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// AddProduct puts one more unit of productID in the cart when the catalog has
// stock beyond what the cart already holds.
func (s *Store) AddProduct(ctx context.Context, productID int) (res Result) {
	ctx, finish := s.begin(ctx, useCaseAdd, "AddProduct", productID)
	defer func() { finish(&res) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if productID <= 0 {
		return s.fail(ctx, domcart.OperationAdd, productID, ReasonUnavailable, MessageAddFailed, domcart.ErrInvalidProduct)
	}

	var (
		product domcart.Product
		stock   domcart.Stock
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.catalog.Product(gctx, productID)
		if err != nil {
			return fmt.Errorf("cart: fetch product: %w", err)
		}
		product = p
		return nil
	})
	g.Go(func() error {
		st, err := s.catalog.Stock(gctx, productID)
		if err != nil {
			return fmt.Errorf("cart: fetch stock: %w", err)
		}
		stock = st
		return nil
	})
	if err := g.Wait(); err != nil {
		return s.fail(ctx, domcart.OperationAdd, productID, ReasonUnavailable, MessageAddFailed, err)
	}
	// the cart line is keyed by the requested id, whatever the catalog echoes back
	product.ID = productID

	next, err := s.current().Add(product, stock)
	switch {
	case errors.Is(err, domcart.ErrOutOfStock):
		return s.fail(ctx, domcart.OperationAdd, productID, ReasonOutOfStock, MessageOutOfStock, err)
	case err != nil:
		return s.fail(ctx, domcart.OperationAdd, productID, ReasonUnavailable, MessageAddFailed, err)
	}

	if err := s.commit(ctx, domcart.OperationAdd, productID, next); err != nil {
		return s.fail(ctx, domcart.OperationAdd, productID, ReasonPersistFailed, MessageAddFailed, err)
	}
	return Result{OK: true, Cart: next.Clone()}
}

// RemoveProduct drops the line for productID.
func (s *Store) RemoveProduct(ctx context.Context, productID int) (res Result) {
	ctx, finish := s.begin(ctx, useCaseRemove, "RemoveProduct", productID)
	defer func() { finish(&res) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	next, err := s.current().Remove(productID)
	if err != nil {
		return s.fail(ctx, domcart.OperationRemove, productID, ReasonNotFound, MessageRemoveFailed, err)
	}

	if err := s.commit(ctx, domcart.OperationRemove, productID, next); err != nil {
		return s.fail(ctx, domcart.OperationRemove, productID, ReasonPersistFailed, MessageRemoveFailed, err)
	}
	return Result{OK: true, Cart: next.Clone()}
}

// UpdateProductAmount sets the amount held for productID. An amount of zero is
// accepted and ignored: it neither removes the line nor notifies.
func (s *Store) UpdateProductAmount(ctx context.Context, productID, amount int) (res Result) {
	ctx, finish := s.begin(ctx, useCaseUpdate, "UpdateProductAmount", productID,
		attribute.Int("cart.amount", amount),
	)
	defer func() { finish(&res) }()

	if amount == 0 {
		return Result{OK: true, Noop: true, Cart: s.Cart()}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if amount < 0 {
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonInvalidAmount, MessageUpdateFailed, domcart.ErrInvalidAmount)
	}

	current := s.current()
	if current.IndexOf(productID) < 0 {
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonNotFound, MessageUpdateFailed, domcart.ErrNotInCart)
	}

	stock, err := s.catalog.Stock(ctx, productID)
	if err != nil {
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonUnavailable, MessageUpdateFailed, fmt.Errorf("cart: fetch stock: %w", err))
	}

	next, err := current.SetAmount(productID, amount, stock)
	switch {
	case errors.Is(err, domcart.ErrOutOfStock):
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonOutOfStock, MessageOutOfStock, err)
	case err != nil:
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonUnavailable, MessageUpdateFailed, err)
	}

	if err := s.commit(ctx, domcart.OperationUpdate, productID, next); err != nil {
		return s.fail(ctx, domcart.OperationUpdate, productID, ReasonPersistFailed, MessageUpdateFailed, err)
	}
	return Result{OK: true, Cart: next.Clone()}
}

func (s *Store) current() domcart.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart
}

// commit writes next to the slot and only then makes it the current cart.
// The write is detached from caller cancellation: a write the slot applied must
// always be followed by the swap.
func (s *Store) commit(ctx context.Context, operation string, productID int, next domcart.Cart) error {
	raw, err := domcart.Marshal(next)
	if err != nil {
		return err
	}
	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	err = s.slot.Set(setCtx, s.key, raw)
	cancel()
	if err != nil {
		return fmt.Errorf("cart: persist: %w", err)
	}

	s.mu.Lock()
	s.cart = next
	s.mu.Unlock()

	s.itemsGauge.Set(float64(len(next)))
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(endpointCommitted, trace.WithAttributes(
			attribute.String("cart.operation", operation),
			attribute.Int("cart.items", len(next)),
		))
	}
	s.publishCommitted(ctx, operation, productID, next)
	return nil
}

func (s *Store) fail(ctx context.Context, operation string, productID int, reason Reason, message string, err error) Result {
	if s.notifier != nil {
		s.notifier.Notify(ctx, domcart.NewNotificationEvent(s.newID(), operation, productID, string(reason), message))
	}
	return Result{Reason: reason, Message: message, Err: err, Cart: s.Cart()}
}

// publishCommitted is best-effort: the commit already happened.
func (s *Store) publishCommitted(ctx context.Context, operation string, productID int, next domcart.Cart) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	start := time.Now()
	err := s.publisher.Publish(pubCtx, domcart.NewCommittedEvent(s.newID(), operation, productID, next))
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	s.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpointCommitted),
		observability.L("outcome", outcome),
	)
	s.publishDur.Observe(time.Since(start).Seconds())

	if err != nil {
		logctx.FromOr(ctx, s.log).Warn("event_publish_failed",
			observability.F("event", endpointCommitted),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Store) newID() string {
	if s.ids == nil {
		return ""
	}
	return s.ids.NewID()
}

// begin opens the span and request-scoped logger for one use case. The returned
// func records the outcome: span status, RED metrics and a single use_case_done log.
func (s *Store) begin(ctx context.Context, useCase, spanName string, productID int, attrs ...attribute.KeyValue) (context.Context, func(*Result)) {
	ctx, logger := logctx.Enrich(ctx, s.log,
		observability.F("use_case", useCase),
		observability.F("product_id", productID),
	)

	attrs = append([]attribute.KeyValue{
		attribute.String("use_case", useCase),
		attribute.Int("product.id", productID),
	}, attrs...)
	ctx, span := s.tracer.Start(ctx, spanPrefix+spanName, attrs...)
	start := time.Now()

	return ctx, func(res *Result) {
		statusText := res.status()
		outcome := res.outcome()
		lat := time.Since(start).Seconds()

		if span != nil {
			if outcome == "error" {
				if res.Err != nil {
					span.RecordError(res.Err)
				}
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetAttributes(attribute.String("cart.outcome", outcome))
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		s.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
		s.durations[useCase].Observe(lat)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("items", len(res.Cart)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if res.Reason != ReasonNone {
			fields = append(fields, observability.F("failure_reason", string(res.Reason)))
		}
		if res.Err != nil {
			fields = append(fields, observability.F("error", res.Err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}
}
