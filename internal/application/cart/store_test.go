package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	domoutbox "github.com/Zhima-Mochi/minishop-cart/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test:cart"

type fakeCatalog struct {
	mu         sync.Mutex
	products   map[int]domcart.Product
	stocks     map[int]int
	productErr error
	stockErr   error
	stockCalls int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[int]domcart.Product{
			1: {ID: 1, Title: "Tênis de Caminhada Leve Confortável", Price: 179.9, Image: "https://cdn/1.jpg"},
			2: {ID: 2, Title: "Tênis VR Caminhada Confortável", Price: 139.9, Image: "https://cdn/2.jpg"},
			3: {ID: 3, Title: "Tênis Adidas Duramo Lite 2.0", Price: 219.9, Image: "https://cdn/3.jpg"},
		},
		stocks: map[int]int{1: 3, 2: 5, 3: 2},
	}
}

func (c *fakeCatalog) Product(_ context.Context, id int) (domcart.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.productErr != nil {
		return domcart.Product{}, c.productErr
	}
	p, ok := c.products[id]
	if !ok {
		return domcart.Product{}, errors.New("catalog: 404")
	}
	return p, nil
}

func (c *fakeCatalog) Stock(_ context.Context, id int) (domcart.Stock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stockCalls++
	if c.stockErr != nil {
		return domcart.Stock{}, c.stockErr
	}
	amount, ok := c.stocks[id]
	if !ok {
		return domcart.Stock{}, errors.New("catalog: 404")
	}
	return domcart.Stock{ID: id, Amount: amount}, nil
}

func (c *fakeCatalog) setStock(id, amount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stocks[id] = amount
}

type fakeSlot struct {
	values map[string]string
	getErr error
	setErr error
	sets   int
}

func newFakeSlot() *fakeSlot { return &fakeSlot{values: map[string]string{}} }

func (s *fakeSlot) Get(_ context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeSlot) Set(_ context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.values[key] = value
	return nil
}

type recordingNotifier struct {
	events []domcart.NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e domcart.NotificationEvent) {
	n.events = append(n.events, e)
}

func (n *recordingNotifier) messages() []string {
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Message)
	}
	return out
}

type recordingPublisher struct {
	events []domoutbox.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() string { return "evt-1" }

type harness struct {
	store     *Store
	catalog   *fakeCatalog
	slot      *fakeSlot
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newHarness(t *testing.T, persisted domcart.Cart) *harness {
	t.Helper()
	h := &harness{
		catalog:   newFakeCatalog(),
		slot:      newFakeSlot(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	if persisted != nil {
		raw, err := domcart.Marshal(persisted)
		require.NoError(t, err)
		h.slot.values[testKey] = raw
	}
	store, err := Load(context.Background(), testKey, Dependencies{
		Catalog:   h.catalog,
		Slot:      h.slot,
		Notifier:  h.notifier,
		Publisher: h.publisher,
		IDs:       fixedIDs{},
	})
	require.NoError(t, err)
	h.store = store
	return h
}

// persisted decodes what the slot currently holds.
func (h *harness) persisted(t *testing.T) domcart.Cart {
	t.Helper()
	raw, ok := h.slot.values[testKey]
	require.True(t, ok, "slot must hold a cart")
	c, err := domcart.Unmarshal(raw)
	require.NoError(t, err)
	return c
}

func line(c *fakeCatalog, id, amount int) domcart.Product {
	p := c.products[id]
	p.Amount = amount
	return p
}

func TestLoad(t *testing.T) {
	t.Run("absent slot yields empty cart", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.Empty(t, h.store.Cart())
		assert.NotNil(t, h.store.Cart())
	})

	t.Run("persisted blob is reproduced exactly", func(t *testing.T) {
		catalog := newFakeCatalog()
		want := domcart.Cart{line(catalog, 2, 4), line(catalog, 1, 1)}
		h := newHarness(t, want)
		if diff := cmp.Diff(want, h.store.Cart()); diff != "" {
			t.Fatalf("loaded cart mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("malformed blob is an error", func(t *testing.T) {
		slot := newFakeSlot()
		slot.values[testKey] = "{oops"
		_, err := Load(context.Background(), testKey, Dependencies{Catalog: newFakeCatalog(), Slot: slot})
		assert.Error(t, err)
	})

	t.Run("slot read failure is an error", func(t *testing.T) {
		slot := newFakeSlot()
		slot.getErr = errors.New("disk on fire")
		_, err := Load(context.Background(), testKey, Dependencies{Catalog: newFakeCatalog(), Slot: slot})
		assert.ErrorContains(t, err, "disk on fire")
	})

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := Load(context.Background(), testKey, Dependencies{Slot: newFakeSlot()})
		assert.Error(t, err)
		_, err = Load(context.Background(), testKey, Dependencies{Catalog: newFakeCatalog()})
		assert.Error(t, err)
	})
}

func TestAddProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("new product is appended with amount 1", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.AddProduct(ctx, 1)

		res := h.store.AddProduct(ctx, 2)
		require.True(t, res.OK)
		want := domcart.Cart{line(h.catalog, 1, 1), line(h.catalog, 2, 1)}
		if diff := cmp.Diff(want, h.store.Cart()); diff != "" {
			t.Fatalf("cart mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, want, h.persisted(t))
		assert.Empty(t, h.notifier.events)
	})

	t.Run("existing product is incremented until stock runs out", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(newFakeCatalog(), 2, 2)})

		res := h.store.AddProduct(ctx, 2)
		require.True(t, res.OK)
		assert.Equal(t, 3, h.store.Cart().AmountOf(2))

		h.catalog.setStock(2, 3)
		res = h.store.AddProduct(ctx, 2)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonOutOfStock, res.Reason)
		assert.Equal(t, MessageOutOfStock, res.Message)
		assert.Equal(t, 3, h.store.Cart().AmountOf(2))
		assert.Equal(t, 3, h.persisted(t).AmountOf(2))
		assert.Equal(t, []string{MessageOutOfStock}, h.notifier.messages())
	})

	t.Run("catalog failure leaves cart unchanged", func(t *testing.T) {
		h := newHarness(t, nil)
		h.catalog.productErr = errors.New("connection refused")

		res := h.store.AddProduct(ctx, 1)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonUnavailable, res.Reason)
		assert.ErrorContains(t, res.Err, "connection refused")
		assert.Empty(t, h.store.Cart())
		assert.Zero(t, h.slot.sets)
		assert.Equal(t, []string{MessageAddFailed}, h.notifier.messages())
	})

	t.Run("unknown product reports add failure", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.store.AddProduct(ctx, 99)
		assert.Equal(t, ReasonUnavailable, res.Reason)
		assert.Equal(t, []string{MessageAddFailed}, h.notifier.messages())
	})

	t.Run("non-positive id never reaches the catalog", func(t *testing.T) {
		h := newHarness(t, nil)
		res := h.store.AddProduct(ctx, 0)
		assert.Equal(t, ReasonUnavailable, res.Reason)
		assert.Zero(t, h.catalog.stockCalls)
	})
}

func TestRemoveProduct(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeCatalog()

	t.Run("present product is removed", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 1), line(catalog, 2, 3), line(catalog, 3, 1)})

		res := h.store.RemoveProduct(ctx, 2)
		require.True(t, res.OK)
		got := h.store.Cart()
		assert.Len(t, got, 2)
		assert.Equal(t, -1, got.IndexOf(2))
		assert.Equal(t, got, h.persisted(t))
	})

	t.Run("absent product reports failure", func(t *testing.T) {
		before := domcart.Cart{line(catalog, 1, 1)}
		h := newHarness(t, before)

		res := h.store.RemoveProduct(ctx, 3)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonNotFound, res.Reason)
		assert.Equal(t, before, h.store.Cart())
		assert.Zero(t, h.slot.sets)
		assert.Equal(t, []string{MessageRemoveFailed}, h.notifier.messages())
	})
}

func TestUpdateProductAmount(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeCatalog()

	t.Run("zero amount is a silent no-op", func(t *testing.T) {
		before := domcart.Cart{line(catalog, 1, 2)}
		h := newHarness(t, before)

		res := h.store.UpdateProductAmount(ctx, 1, 0)
		assert.True(t, res.OK)
		assert.True(t, res.Noop)
		assert.Equal(t, before, h.store.Cart())
		assert.Empty(t, h.notifier.events)
		assert.Zero(t, h.catalog.stockCalls)
		assert.Zero(t, h.slot.sets)
	})

	t.Run("absent product reports failure", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 2)})

		res := h.store.UpdateProductAmount(ctx, 3, 1)
		assert.Equal(t, ReasonNotFound, res.Reason)
		assert.Equal(t, []string{MessageUpdateFailed}, h.notifier.messages())
		assert.Zero(t, h.catalog.stockCalls)
	})

	t.Run("amount above stock is rejected", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 2)})

		res := h.store.UpdateProductAmount(ctx, 1, 4)
		assert.Equal(t, ReasonOutOfStock, res.Reason)
		assert.Equal(t, 2, h.store.Cart().AmountOf(1))
		assert.Equal(t, []string{MessageOutOfStock}, h.notifier.messages())
	})

	t.Run("amount within stock is set exactly", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 2), line(catalog, 2, 1)})

		res := h.store.UpdateProductAmount(ctx, 1, 3)
		require.True(t, res.OK)
		assert.Equal(t, 3, h.store.Cart().AmountOf(1))
		assert.Equal(t, h.store.Cart(), h.persisted(t))

		res = h.store.UpdateProductAmount(ctx, 1, 1)
		require.True(t, res.OK)
		assert.Equal(t, 1, h.persisted(t).AmountOf(1))
	})

	t.Run("negative amount is invalid", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 2)})
		res := h.store.UpdateProductAmount(ctx, 1, -2)
		assert.Equal(t, ReasonInvalidAmount, res.Reason)
		assert.Equal(t, 2, h.store.Cart().AmountOf(1))
	})

	t.Run("stock lookup failure", func(t *testing.T) {
		h := newHarness(t, domcart.Cart{line(catalog, 1, 2)})
		h.catalog.stockErr = errors.New("timeout")
		res := h.store.UpdateProductAmount(ctx, 1, 1)
		assert.Equal(t, ReasonUnavailable, res.Reason)
		assert.Equal(t, []string{MessageUpdateFailed}, h.notifier.messages())
	})
}

func TestPersistFailureKeepsPreviousCart(t *testing.T) {
	ctx := context.Background()
	catalog := newFakeCatalog()
	before := domcart.Cart{line(catalog, 1, 1)}
	h := newHarness(t, before)
	h.slot.setErr = errors.New("quota exceeded")

	for name, res := range map[string]Result{
		"add":    h.store.AddProduct(ctx, 2),
		"remove": h.store.RemoveProduct(ctx, 1),
		"update": h.store.UpdateProductAmount(ctx, 1, 2),
	} {
		assert.Equal(t, ReasonPersistFailed, res.Reason, name)
		assert.Equal(t, before, res.Cart, name)
	}
	assert.Equal(t, before, h.store.Cart())
	assert.Equal(t, before, h.persisted(t))
	assert.Empty(t, h.publisher.events)
}

func TestCommittedEventsArePublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	h.store.AddProduct(ctx, 1)
	h.store.AddProduct(ctx, 1)
	h.store.RemoveProduct(ctx, 1)

	require.Len(t, h.publisher.events, 3)
	last, ok := h.publisher.events[2].(domcart.CommittedEvent)
	require.True(t, ok)
	assert.Equal(t, domcart.OperationRemove, last.Operation)
	assert.Equal(t, 1, last.ProductID)
	assert.Zero(t, last.Items)
	assert.Equal(t, "evt-1", last.EventID)
}

func TestPublishFailureDoesNotUndoCommit(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.err = errors.New("bus closed")

	res := h.store.AddProduct(context.Background(), 3)
	assert.True(t, res.OK)
	assert.Equal(t, 1, h.persisted(t).AmountOf(3))
}

func TestSnapshotIsDetached(t *testing.T) {
	h := newHarness(t, nil)
	h.store.AddProduct(context.Background(), 1)

	snap := h.store.Cart()
	snap[0].Amount = 99
	assert.Equal(t, 1, h.store.Cart().AmountOf(1))
}

// cancelingSlot applies every write, then cancels the caller the way a client
// hanging up mid-request would, and reports whatever its context says.
type cancelingSlot struct {
	*fakeSlot
	cancel context.CancelFunc
}

func (s *cancelingSlot) Set(ctx context.Context, key, value string) error {
	if err := s.fakeSlot.Set(ctx, key, value); err != nil {
		return err
	}
	s.cancel()
	return ctx.Err()
}

func TestCommitSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slot := &cancelingSlot{fakeSlot: newFakeSlot(), cancel: cancel}
	store, err := Load(context.Background(), testKey, Dependencies{Catalog: newFakeCatalog(), Slot: slot})
	require.NoError(t, err)

	res := store.AddProduct(ctx, 1)
	require.True(t, res.OK, "reason=%s err=%v", res.Reason, res.Err)

	persisted, err := domcart.Unmarshal(slot.values[testKey])
	require.NoError(t, err)
	assert.Equal(t, store.Cart(), persisted)
	assert.Equal(t, 1, store.Cart().AmountOf(1))
}

func TestConcurrentAddsNeverExceedStock(t *testing.T) {
	const (
		callers = 20
		stock   = 3
	)
	h := newHarness(t, nil)
	h.catalog.setStock(1, stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.store.AddProduct(context.Background(), 1).OK {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, successes)
	assert.Equal(t, stock, h.store.Cart().AmountOf(1))
	assert.Equal(t, stock, h.persisted(t).AmountOf(1))
	assert.Len(t, h.notifier.events, callers-stock)
}

type recordingHistogram struct {
	mu    sync.Mutex
	bound map[string]int // label set -> observations
}

func (h *recordingHistogram) Observe(float64, ...observability.Label) {}

func (h *recordingHistogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bound == nil {
		h.bound = map[string]int{}
	}
	key := ""
	for _, l := range labels {
		key += l.Key + "=" + l.Value + ","
	}
	return boundRecorder{h: h, key: key}
}

func (h *recordingHistogram) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound[key]
}

type boundRecorder struct {
	h   *recordingHistogram
	key string
}

func (b boundRecorder) Observe(float64) {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	b.h.bound[b.key]++
}

type recordingMetrics struct {
	histograms map[observability.MetricKey]*recordingHistogram
}

func (m recordingMetrics) Counter(observability.MetricKey) observability.Counter {
	return observability.NopCounter()
}

func (m recordingMetrics) Histogram(key observability.MetricKey) observability.Histogram {
	return m.histograms[key]
}

func (m recordingMetrics) Gauge(observability.MetricKey) observability.Gauge {
	return observability.NopGauge()
}

type recordingTelemetry struct{ metrics recordingMetrics }

func (t recordingTelemetry) Tracer() observability.Tracer   { return observability.NopTracer() }
func (t recordingTelemetry) Logger() observability.Logger   { return observability.NopLogger() }
func (t recordingTelemetry) Metrics() observability.Metrics { return t.metrics }

func TestDurationsUseBoundInstruments(t *testing.T) {
	usecases := &recordingHistogram{}
	external := &recordingHistogram{}
	tel := recordingTelemetry{metrics: recordingMetrics{histograms: map[observability.MetricKey]*recordingHistogram{
		observability.MUsecaseDuration:         usecases,
		observability.MExternalRequestDuration: external,
	}}}

	store, err := Load(context.Background(), testKey, Dependencies{
		Catalog:   newFakeCatalog(),
		Slot:      newFakeSlot(),
		Publisher: &recordingPublisher{},
		Telemetry: tel,
	})
	require.NoError(t, err)

	store.AddProduct(context.Background(), 1)
	store.AddProduct(context.Background(), 1)
	store.RemoveProduct(context.Background(), 1)

	assert.Equal(t, 2, usecases.count("use_case="+useCaseAdd+","))
	assert.Equal(t, 1, usecases.count("use_case="+useCaseRemove+","))
	assert.Equal(t, 0, usecases.count("use_case="+useCaseUpdate+","))
	assert.Equal(t, 3, external.count("peer=outbox,endpoint=cart.committed,"))
}
