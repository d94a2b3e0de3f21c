package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"kioskpos/backend/internal/cart"
	"kioskpos/backend/internal/domain"
	"kioskpos/backend/internal/pos"
	"kioskpos/backend/internal/sale"
	"kioskpos/backend/internal/service"
	"kioskpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	terminals     *pos.Registry
	allowedOrigin string
	loginLimiter  *attemptLimiter
	signUpLimiter *attemptLimiter
	logger        *slog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		terminals:     pos.NewRegistry(svc),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		signUpLimiter: newAttemptLimiter(3, time.Minute),
		logger:        logger.With("component", "http"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Post("/auth/register", a.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)

			r.Get("/products", a.handleListProducts)
			r.With(requireRole(domain.RoleAdmin)).Post("/products", a.handleCreateProduct)
			r.With(requireRole(domain.RoleAdmin)).Patch("/products/{productID}", a.handleUpdateProduct)

			r.Get("/kiosks", a.handleListKiosks)
			r.Get("/kiosks/mine", a.handleMyKiosks)
			r.With(requireRole(domain.RoleAdmin)).Post("/kiosks", a.handleCreateKiosk)
			r.With(requireRole(domain.RoleAdmin)).Put("/kiosks/{kioskID}/vendor", a.handleAssignVendor)
			r.Get("/kiosks/{kioskID}/inventory", a.handleKioskInventory)
			r.With(requireRole(domain.RoleAdmin)).Post("/kiosks/{kioskID}/inventory", a.handleReplenish)
			r.With(requireRole(domain.RoleAdmin)).Delete("/kiosks/{kioskID}/inventory/{productID}", a.handleRemoveInventory)

			r.With(requireRole(domain.RoleAdmin)).Get("/stock/overview", a.handleStockOverview)
			r.With(requireRole(domain.RoleAdmin)).Get("/vendors", a.handleListVendors)

			r.Get("/customers", a.handleSearchCustomers)
			r.Post("/customers", a.handleCreateCustomer)

			r.Route("/pos", func(r chi.Router) {
				r.Post("/session", a.handlePOSOpen)
				r.Get("/inventory", a.handlePOSInventory)
				r.Get("/cart", a.handleCartView)
				r.Delete("/cart", a.handleCartClear)
				r.Post("/cart/items", a.handleCartAdd)
				r.Delete("/cart/items/{recordID}", a.handleCartRemove)
				r.Post("/checkout", a.handleCheckout)
			})

			r.Get("/sales", a.handleListSales)
			r.Get("/sales/{saleID}", a.handleGetSale)
		})
	})

	return r
}

type sessionContextKey struct{}

func withSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func sessionFrom(r *http.Request) domain.Session {
	session, _ := r.Context().Value(sessionContextKey{}).(domain.Session)
	return session
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		session, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isRoleAllowed(sessionFrom(r).Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(startedAt),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var stock *sale.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, sale.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &stock),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, cart.ErrStockLimit),
		errors.Is(err, pos.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, sale.ErrEmptyCart),
		errors.Is(err, pos.ErrNoKiosk),
		errors.Is(err, pos.ErrUnknownItem):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status statusFor picks. Sale failures keep
// their operator-facing message even when the cause is internal.
func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var commitErr *sale.CommitError
	if status >= 500 && errors.As(err, &commitErr) {
		slog.Error("sale failed", "status", status, "error", commitErr.Err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": commitErr.Message})
		return
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTime accepts RFC 3339 timestamps and plain dates. An empty value is
// the zero time.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("dates must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal details
	msg := err.Error()
	if status >= 500 {
		slog.Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
