package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"quickmart/backend/internal/domain"
	"quickmart/backend/internal/logger"
	"quickmart/backend/internal/service"
)

// maxIdempotencyKeyLen matches the max tag on domain.SaleRequest.
const maxIdempotencyKeyLen = 128

type Options struct {
	AllowedOrigin  string
	Logger         *logger.Logger
	MetricsHandler http.Handler
}

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	log            *logger.Logger
	metricsHandler http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "http://localhost:5173"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  opts.AllowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		log:            opts.Logger,
		metricsHandler: opts.MetricsHandler,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestID, a.recoverer, a.logging, a.securityHeaders)

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.With(a.requireRoles(domain.RoleCashier, domain.RoleAdmin)).Post("/sales", a.handleSale)
		r.With(a.requireRoles(domain.RoleCashier, domain.RoleManager, domain.RoleAdmin)).Get("/sales/recent", a.handleRecentSales)
		r.With(a.requireRoles(domain.RoleCashier, domain.RoleAdmin)).Post("/calculator", a.handleCalculator)

		r.With(a.requireRoles()).Get("/items", a.handleListItems)
		r.Group(func(r chi.Router) {
			r.Use(a.requireRoles(domain.RoleManager, domain.RoleAdmin))
			r.Post("/items", a.handleCreateItem)
			r.Patch("/items/{itemID}", a.handleUpdateItem)
			r.Post("/items/{itemID}/restock", a.handleRestock)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Use(a.requireRoles(domain.RoleManager, domain.RoleAdmin, domain.RoleViewer))
			r.Get("/categories", a.handleCategoryReport)
			r.Get("/top-items", a.handleTopItemsReport)
			r.Get("/daily-revenue", a.handleDailyRevenueReport)
			r.Get("/stock-levels", a.handleStockLevelsReport)
			r.Get("/sales.csv", a.handleSalesExport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), a.log, w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), a.log, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().In(a.service.Location()).Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(r.Context(), a.log, w, http.StatusTooManyRequests, errors.New("too many login attempts, try again later"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, errInactiveAccount) {
			status = http.StatusForbidden
		}
		a.log.Warn(a.log.WithField(r.Context(), "username", strings.ToLower(strings.TrimSpace(req.Username))), "login rejected")
		writeError(r.Context(), a.log, w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		if utf8.RuneCountInString(key) > maxIdempotencyKeyLen {
			writeError(r.Context(), a.log, w, http.StatusBadRequest, fmt.Errorf("idempotency key header must be at most %d characters", maxIdempotencyKeyLen))
			return
		}
		req.IdempotencyKey = key
	}

	receipt, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, receipt)
}

func (a *API) handleRecentSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 100)
	sales, err := a.service.RecentSales(r.Context(), limit)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleCalculator(w http.ResponseWriter, r *http.Request) {
	var req domain.CalculatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Calculate(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListItems(r.Context())
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.CreateItem(r.Context(), req)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), req)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req domain.RestockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), a.log, w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.Restock(r.Context(), chi.URLParam(r, "itemID"), req)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCategoryReport(w http.ResponseWriter, r *http.Request) {
	serveRangeReport(w, r, a, a.service.CategorySummary)
}

func (a *API) handleTopItemsReport(w http.ResponseWriter, r *http.Request) {
	n := parsePositiveLimit(r.URL.Query().Get("n"), service.DefaultTopItems, 100)
	serveRangeReport(w, r, a, func(ctx context.Context, rng domain.DateRange) ([]domain.ItemRevenue, error) {
		return a.service.TopItems(ctx, n, rng)
	})
}

func (a *API) handleDailyRevenueReport(w http.ResponseWriter, r *http.Request) {
	serveRangeReport(w, r, a, a.service.DailyRevenue)
}

func (a *API) handleStockLevelsReport(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.StockLevels(r.Context())
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, levels)
}

func (a *API) handleSalesExport(w http.ResponseWriter, r *http.Request) {
	rng, err := a.service.ParseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}

	// Buffer so a failed export still gets a JSON error instead of a
	// truncated attachment.
	var buf bytes.Buffer
	if _, err := a.service.ExportSales(r.Context(), rng, &buf); err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	filename := fmt.Sprintf("sales-%s.csv", time.Now().In(a.service.Location()).Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func serveRangeReport[T any](w http.ResponseWriter, r *http.Request, a *API, build func(context.Context, domain.DateRange) ([]T, error)) {
	rng, err := a.service.ParseDateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	rows, err := build(r.Context(), rng)
	if err != nil {
		writeServiceError(r.Context(), a.log, w, err)
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, rows)
}
