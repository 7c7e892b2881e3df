/*
handlers.go - HTTP handlers for the praise ledger

ENDPOINTS:
  Praise:
    POST   /api/praise                 Give praise (caller is the giver)
    GET    /api/praise/recent          Company-wide feed

  Redemptions:
    POST   /api/redemptions            Redeem a reward for the caller

  Users:
    GET    /api/users                  Directory (id and name only)

  Me:
    GET    /api/me                     Caller's profile and balance
    GET    /api/me/balance             Caller's balance
    GET    /api/me/history             Paged history (?cursor=&page_size=)
    GET    /api/me/redemptions         Caller's redemptions

  Catalog:
    GET    /api/catalog/core-values
    GET    /api/catalog/rewards        Active rewards only

  Admin:
    POST   /api/admin/users                      Register a user
    POST   /api/admin/redemptions/{id}/fulfill
    POST   /api/admin/redemptions/{id}/cancel    Re-credits the points
    GET    /api/admin/audit                      Recompute every balance

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the service (all business rules live there)
  3. Serialize response or map the error with statusFor

ERROR HANDLING:
  - 400: Validation errors, malformed body or query
  - 401: Missing or invalid bearer token
  - 403: Admin route, non-admin caller
  - 404: Unknown user, reward, core value or redemption
  - 409: Duplicate idempotency key or email, redemption already terminal
  - 422: Insufficient balance, inactive reward
  - 503: Write contention persisted after retries
  - 500: Anything else (details withheld, logged)

IDEMPOTENCY:
  POST /api/praise and POST /api/redemptions accept an Idempotency-Key header.
  Replaying a key answers 409.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/identity"
	"github.com/warp/praise-ledger/ledger"
	"github.com/warp/praise-ledger/praise"
	"github.com/warp/praise-ledger/redemption"
)

const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *ledger.Ledger
	Praise      *praise.Service
	Redemptions *redemption.Service
	Catalog     catalog.Provider
	Identity    identity.Resolver
	Auditor     *ledger.Auditor
	Logger      *slog.Logger

	// HistoryPageSize applies when the client sends no page_size.
	HistoryPageSize int
}

// NewHandler wires the services around one ledger.
func NewHandler(l *ledger.Ledger, cat catalog.Provider, resolver identity.Resolver, policy praise.Policy, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Ledger:          l,
		Praise:          praise.NewService(l, cat, policy),
		Redemptions:     redemption.NewService(l, cat),
		Catalog:         cat,
		Identity:        resolver,
		Auditor:         &ledger.Auditor{Store: l.Store()},
		Logger:          logger,
		HistoryPageSize: ledger.DefaultHistoryPageSize,
	}
}

// =============================================================================
// PRAISE HANDLERS
// =============================================================================

// GivePraise credits the receiver on behalf of the caller.
// POST /api/praise
func (h *Handler) GivePraise(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)

	var req GivePraiseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ev, err := h.Praise.Give(r.Context(), praise.GiveInput{
		GiverID:        caller.UserID,
		ReceiverID:     ledger.UserID(req.ReceiverID),
		Message:        req.Message,
		CoreValueID:    ledger.CoreValueID(req.CoreValueID),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPraiseDTO(ev))
}

// RecentPraise returns the newest praise across the company.
// GET /api/praise/recent?limit=
func (h *Handler) RecentPraise(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	feed, err := h.Praise.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPraiseDTOs(feed))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem spends the caller's points on a reward.
// POST /api/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)

	var req RedeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ev, err := h.Redemptions.Redeem(r.Context(), redemption.RedeemInput{
		UserID:         caller.UserID,
		RewardID:       ledger.RewardID(req.RewardID),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(ev))
}

// FulfillRedemption marks a pending redemption as delivered.
// POST /api/admin/redemptions/{id}/fulfill
func (h *Handler) FulfillRedemption(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Redemptions.Fulfill(r.Context(), ledger.RedemptionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(ev))
}

// CancelRedemption voids a pending redemption and refunds its points.
// POST /api/admin/redemptions/{id}/cancel
func (h *Handler) CancelRedemption(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Redemptions.Cancel(r.Context(), ledger.RedemptionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTO(ev))
}

// =============================================================================
// ME HANDLERS
// =============================================================================

// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.Ledger.GetUser(r.Context(), mustCaller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

// GET /api/me/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := mustCaller(r).UserID
	balance, err := h.Ledger.GetBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: string(id), Balance: balance})
}

// GetHistory returns one page of the caller's history, newest first.
// GET /api/me/history?cursor=&page_size=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	pageSize, ok := queryInt(w, r, "page_size")
	if !ok {
		return
	}
	if pageSize == 0 {
		pageSize = h.HistoryPageSize
	}
	cursor := ledger.Cursor(r.URL.Query().Get("cursor"))

	page, err := h.Ledger.ListHistory(r.Context(), mustCaller(r).UserID, cursor, pageSize)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryPageDTO(page))
}

// GET /api/me/redemptions
func (h *Handler) ListMyRedemptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Redemptions.List(r.Context(), mustCaller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(list))
}

// ListUsers is the directory callers pick praise receivers from. Email and
// balance are not exposed.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Ledger.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDirectoryDTOs(users))
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// GET /api/catalog/core-values
func (h *Handler) ListCoreValues(w http.ResponseWriter, r *http.Request) {
	values, err := h.Catalog.ListCoreValues(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoreValueDTOs(values))
}

// GET /api/catalog/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.Catalog.ListRewards(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTOs(rewards))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateUser registers a user with a zero balance.
// POST /api/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := h.Ledger.CreateUser(r.Context(), ledger.NewUser{
		ID:    ledger.UserID(req.ID),
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

// RunAudit recomputes every balance from the event log.
// GET /api/admin/audit
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !report.Healthy() {
		h.Logger.ErrorContext(r.Context(), "audit found balance drift",
			slog.Int("checked", report.Checked),
			slog.Int("drifts", len(report.Drifts)),
		)
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrRewardInactive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, ledger.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var statusMessages = map[int]string{
	http.StatusBadRequest:          "Invalid request",
	http.StatusUnauthorized:        "Authentication required",
	http.StatusForbidden:           "Admin role required",
	http.StatusNotFound:            "Not found",
	http.StatusConflict:            "Conflict",
	http.StatusUnprocessableEntity: "Request cannot be fulfilled",
	http.StatusServiceUnavailable:  "Temporarily unavailable, retry",
}

// fail writes the mapped error. Server errors are logged and their
// details withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		}
		if c, ok := CallerFrom(r.Context()); ok {
			attrs = append(attrs, slog.String("user_id", string(c.UserID)))
		}
		h.Logger.ErrorContext(r.Context(), "request failed", attrs...)
		writeError(w, status, "Internal error", nil)
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, statusMessages[status], err)
}

func mustCaller(r *http.Request) identity.Caller {
	c, ok := CallerFrom(r.Context())
	if !ok {
		panic("api: handler mounted without Authenticate")
	}
	return c
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, err)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
