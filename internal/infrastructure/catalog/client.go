package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const (
	peerCatalog      = "catalog"
	endpointProducts = "products"
	endpointStock    = "stock"
	maxBodyBytes     = 1 << 20
)

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrUnexpectedReply = errors.New("catalog: unexpected response")
)

// Client reads product and stock records from the catalog HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	prop    propagation.TextMapPropagator
	tracer  observability.Tracer
	log     observability.Logger

	extCounter   observability.Counter
	extHistogram observability.Histogram
}

// New returns a client for baseURL. A zero timeout leaves requests bounded only by the context.
func New(baseURL string, timeout time.Duration, tel observability.Observability) *Client {
	logger := observability.NopLogger()
	tracer := observability.NopTracer()
	metricsProvider := observability.NopMetrics()
	if tel != nil {
		logger = tel.Logger()
		tracer = tel.Tracer()
		metricsProvider = tel.Metrics()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: timeout},
		prop:         otel.GetTextMapPropagator(),
		tracer:       tracer,
		log:          logger.With(observability.F("component", "catalog_client")),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
	}
}

func (c *Client) Product(ctx context.Context, productID int) (domcart.Product, error) {
	var p domcart.Product
	if err := c.get(ctx, endpointProducts, productID, &p); err != nil {
		return domcart.Product{}, err
	}
	// amount is cart-local; never trust one coming from the catalog
	p.Amount = 0
	return p, nil
}

func (c *Client) Stock(ctx context.Context, productID int) (domcart.Stock, error) {
	var s domcart.Stock
	if err := c.get(ctx, endpointStock, productID, &s); err != nil {
		return domcart.Stock{}, err
	}
	return s, nil
}

func (c *Client) get(ctx context.Context, endpoint string, productID int, dst any) (err error) {
	ctx, span := c.tracer.Start(ctx, "catalog.GET /"+endpoint+"/{id}",
		attribute.String("peer.service", peerCatalog),
		attribute.Int("product.id", productID),
	)
	start := time.Now()
	outcome := "success"
	status := 0

	defer func() {
		if err != nil {
			outcome = "error"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				outcome = "canceled"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "OK")
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		span.End()

		c.extCounter.Add(1,
			observability.L("peer", peerCatalog),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerCatalog),
			observability.L("endpoint", endpoint),
		)
		if err != nil {
			logctx.FromOr(ctx, c.log).Warn("catalog_request_failed",
				observability.F("endpoint", endpoint),
				observability.F("product_id", productID),
				observability.F("status", status),
				observability.F("error", err.Error()),
			)
		}
	}()

	url := c.baseURL + "/" + endpoint + "/" + strconv.Itoa(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: get %s/%d: %w", endpoint, productID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	status = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s/%d", ErrProductNotFound, endpoint, productID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %s/%d status %d", ErrUnexpectedReply, endpoint, productID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("catalog: read %s/%d: %w", endpoint, productID, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %s/%d: %w", ErrUnexpectedReply, endpoint, productID, err)
	}
	return nil
}
