package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	appcart "github.com/Zhima-Mochi/minishop-cart/internal/application/cart"
	domcart "github.com/Zhima-Mochi/minishop-cart/internal/domain/cart"
	"github.com/Zhima-Mochi/minishop-cart/internal/infrastructure/notification"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability"
	"github.com/Zhima-Mochi/minishop-cart/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// CartService is what the HTTP layer needs from the cart store.
type CartService interface {
	Cart() domcart.Cart
	AddProduct(ctx context.Context, productID int) appcart.Result
	RemoveProduct(ctx context.Context, productID int) appcart.Result
	UpdateProductAmount(ctx context.Context, productID, amount int) appcart.Result
}

// ToastFeed lists recent user-facing notifications.
type ToastFeed interface {
	Recent(limit int) []notification.Toast
}

type Handler struct {
	cart  CartService
	feed  ToastFeed
	log   observability.Logger
	tel   observability.Observability
	ready func(context.Context) error
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerTenantID       = "X-Tenant-ID"
	paramProductID       = "productID"
)

// NewHandler wires the cart routes. ready, when set, backs /health (e.g. a slot ping).
func NewHandler(cart CartService, feed ToastFeed, tel observability.Observability, ready func(context.Context) error) *Handler {
	baseLogger := observability.NopLogger()
	if tel != nil {
		baseLogger = tel.Logger()
	}
	return &Handler{
		cart:  cart,
		feed:  feed,
		log:   baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:   tel,
		ready: ready,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Trace → ObservabilityMiddleware (request logger + HTTP metrics) → Access log → Handler
	h.handle(r, http.MethodGet, "/cart", h.handleGetCart)
	h.handle(r, http.MethodPost, "/cart/items", h.handleAddProduct)
	h.handle(r, http.MethodDelete, "/cart/items/{"+paramProductID+"}", h.handleRemoveProduct)
	h.handle(r, http.MethodPut, "/cart/items/{"+paramProductID+"}", h.handleUpdateAmount)
	h.handle(r, http.MethodGet, "/notifications", h.handleNotifications)
	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	return r
}

func (h *Handler) handle(r chi.Router, method, route string, handler http.HandlerFunc) {
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string {
				return r.Header.Get(headerRequestID)
			},
			func(r *http.Request) string {
				return r.Header.Get(headerTenantID)
			},
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	r.Method(method, route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(req.Context(), method+" "+route)
		wrapped.ServeHTTP(w, req.WithContext(ctx))
	}))
}

type lineItem struct {
	ID       int     `json:"id"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Amount   int     `json:"amount"`
	Subtotal float64 `json:"subtotal"`
}

type cartResponse struct {
	Items []lineItem `json:"items"`
	Units int        `json:"units"`
	Total float64    `json:"total"`
}

type resultResponse struct {
	OK      bool         `json:"ok"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Cart    cartResponse `json:"cart"`
}

func toCartResponse(c domcart.Cart) cartResponse {
	out := cartResponse{Items: make([]lineItem, 0, len(c))}
	for _, p := range c {
		sub := p.Price * float64(p.Amount)
		out.Items = append(out.Items, lineItem{
			ID:       p.ID,
			Title:    p.Title,
			Price:    p.Price,
			Image:    p.Image,
			Amount:   p.Amount,
			Subtotal: sub,
		})
		out.Units += p.Amount
		out.Total += sub
	}
	return out
}

func (h *Handler) handleGetCart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toCartResponse(h.cart.Cart()))
}

type addProductRequest struct {
	ProductID int `json:"product_id"`
}

func (h *Handler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req addProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProductID <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("product_id must be a positive integer"))
		return
	}
	writeResult(w, h.cart.AddProduct(r.Context(), req.ProductID))
}

func (h *Handler) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeResult(w, h.cart.RemoveProduct(r.Context(), productID))
}

type updateAmountRequest struct {
	Amount *int `json:"amount"`
}

func (h *Handler) handleUpdateAmount(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, errors.New("amount is required"))
		return
	}
	writeResult(w, h.cart.UpdateProductAmount(r.Context(), productID, *req.Amount))
}

type notificationsResponse struct {
	Notifications []notification.Toast `json:"notifications"`
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	toasts := []notification.Toast{}
	if h.feed != nil {
		toasts = append(toasts, h.feed.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: toasts})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop-cart.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanName := routeFromContext(parentCtx)
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			template = rctx.RoutePattern()
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

func productIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, paramProductID)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("product id must be an integer")
	}
	return id, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeResult(w http.ResponseWriter, res appcart.Result) {
	writeJSON(w, statusForResult(res), resultResponse{
		OK:      res.OK,
		Reason:  string(res.Reason),
		Message: res.Message,
		Cart:    toCartResponse(res.Cart),
	})
}

func statusForResult(res appcart.Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Reason {
	case appcart.ReasonNotFound:
		return http.StatusNotFound
	case appcart.ReasonOutOfStock:
		return http.StatusConflict
	case appcart.ReasonInvalidAmount:
		return http.StatusBadRequest
	case appcart.ReasonUnavailable:
		return http.StatusBadGateway
	case appcart.ReasonPersistFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
