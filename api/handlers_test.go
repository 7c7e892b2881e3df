package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/config"
	"github.com/warp/praise-ledger/identity"
	"github.com/warp/praise-ledger/ledger"
	"github.com/warp/praise-ledger/ledger/store"
	"github.com/warp/praise-ledger/praise"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	aliceToken = "alice-token"
	bobToken   = "bob-token"
	adminToken = "admin-token"
)

type testServer struct {
	router  *chi.Mux
	handler *Handler
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	l := ledger.New(store.NewMemory())
	for _, u := range []ledger.NewUser{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "admin", Name: "Admin", Email: "admin@example.com"},
	} {
		_, err := l.CreateUser(ctx, u)
		require.NoError(t, err)
	}

	cat, err := catalog.NewStatic(
		[]ledger.CoreValue{
			{ID: "teamwork", Name: "Teamwork"},
			{ID: "ownership", Name: "Ownership"},
		},
		[]ledger.Reward{
			{ID: "coffee", Name: "Coffee", Cost: 10, Active: true},
			{ID: "hoodie", Name: "Hoodie", Cost: 50, Active: true},
			{ID: "retired", Name: "Retired swag", Cost: 1, Active: false},
		},
	)
	require.NoError(t, err)

	resolver := identity.Static{
		aliceToken: {UserID: "alice"},
		bobToken:   {UserID: "bob"},
		adminToken: {UserID: "admin", Admin: true},
	}

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	h := NewHandler(l, cat, resolver, praise.DefaultPolicy(), logger)
	router := NewRouter(h, config.CORSConfig{
		AllowedOrigins: "*",
		AllowedMethods: "GET,POST,OPTIONS",
		AllowedHeaders: "Authorization,Content-Type,Idempotency-Key",
	})
	return &testServer{router: router, handler: h, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) balance(t *testing.T, token string) int64 {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/me/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[BalanceDTO](t, rec).Balance
}

func (s *testServer) praise(t *testing.T, token, receiver, message string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/praise", token, GivePraiseRequest{
		ReceiverID: receiver, Message: message, CoreValueID: "teamwork",
	})
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestHealthz_NoAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"unknown", "forged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/me", tt.token, nil)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Authentication required", decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAdminRoutes_ForbiddenForUsers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/admin/audit", aliceToken, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me", aliceToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[UserDTO](t, rec)
	assert.Equal(t, "alice", me.ID)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Zero(t, me.Balance)
}

// =============================================================================
// PRAISE
// =============================================================================

func TestGivePraise_CreditsReceiver(t *testing.T) {
	// GIVEN: Alice and Bob with zero balances
	// WHEN: Alice praises Bob
	// THEN: 201 with the event, Bob has 10 points, Alice still 0
	s := newTestServer(t)

	rec := s.praise(t, aliceToken, "bob", "Great demo")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decode[PraiseDTO](t, rec)
	assert.Equal(t, "alice", ev.GiverID)
	assert.Equal(t, "bob", ev.ReceiverID)
	assert.Equal(t, int64(10), ev.PointsAwarded)
	assert.Equal(t, int64(10), s.balance(t, bobToken))
	assert.Zero(t, s.balance(t, aliceToken))
}

func TestGivePraise_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"self praise", GivePraiseRequest{ReceiverID: "alice", Message: "me", CoreValueID: "teamwork"}, http.StatusBadRequest},
		{"empty message", GivePraiseRequest{ReceiverID: "bob", Message: "  ", CoreValueID: "teamwork"}, http.StatusBadRequest},
		{"unknown core value", GivePraiseRequest{ReceiverID: "bob", Message: "hi", CoreValueID: "synergy"}, http.StatusNotFound},
		{"unknown receiver", GivePraiseRequest{ReceiverID: "carol", Message: "hi", CoreValueID: "teamwork"}, http.StatusNotFound},
		{"malformed body", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/praise", aliceToken, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, s.balance(t, bobToken))
}

func TestGivePraise_IdempotencyKeyReplay(t *testing.T) {
	s := newTestServer(t)
	body := GivePraiseRequest{ReceiverID: "bob", Message: "thanks", CoreValueID: "teamwork"}

	first := s.do(t, http.MethodPost, "/api/praise", aliceToken, body, "Idempotency-Key", "k-1")
	second := s.do(t, http.MethodPost, "/api/praise", aliceToken, body, "Idempotency-Key", "k-1")

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, int64(10), s.balance(t, bobToken))
}

func TestRecentPraise(t *testing.T) {
	s := newTestServer(t)
	for i := range 3 {
		require.Equal(t, http.StatusCreated, s.praise(t, aliceToken, "bob", fmt.Sprintf("note %d", i)).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/praise/recent?limit=2", bobToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	feed := decode[[]PraiseDTO](t, rec)
	require.Len(t, feed, 2)
	assert.Equal(t, "note 2", feed[0].Message)

	bad := s.do(t, http.MethodGet, "/api/praise/recent?limit=lots", bobToken, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

func TestRedeem_Errors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.praise(t, bobToken, "alice", "thanks").Code)

	tests := []struct {
		name   string
		reward string
		status int
	}{
		{"insufficient balance", "hoodie", http.StatusUnprocessableEntity},
		{"inactive reward", "retired", http.StatusUnprocessableEntity},
		{"unknown reward", "yacht", http.StatusNotFound},
		{"missing reward", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/redemptions", aliceToken, RedeemRequest{RewardID: tt.reward})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, int64(10), s.balance(t, aliceToken))
}

func TestScenario_PraiseRedeemCancel(t *testing.T) {
	// GIVEN: Alice at 0
	// WHEN: Bob praises Alice, Alice redeems a 10 point coffee twice,
	//       and an admin cancels the first redemption
	// THEN: Balances go 10, 0, 0 (rejected), 10
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.praise(t, bobToken, "alice", "Teamwork on the launch").Code)
	assert.Equal(t, int64(10), s.balance(t, aliceToken))

	rec := s.do(t, http.MethodPost, "/api/redemptions", aliceToken, RedeemRequest{RewardID: "coffee"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[RedemptionDTO](t, rec)
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, int64(10), first.PointsSpent)
	assert.Zero(t, s.balance(t, aliceToken))

	rec = s.do(t, http.MethodPost, "/api/redemptions", aliceToken, RedeemRequest{RewardID: "coffee"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, s.balance(t, aliceToken))

	rec = s.do(t, http.MethodPost, "/api/admin/redemptions/"+first.ID+"/cancel", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[RedemptionDTO](t, rec).Status)
	assert.Equal(t, int64(10), s.balance(t, aliceToken))

	rec = s.do(t, http.MethodPost, "/api/admin/redemptions/"+first.ID+"/cancel", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int64(10), s.balance(t, aliceToken))

	rec = s.do(t, http.MethodGet, "/api/me/redemptions", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]RedemptionDTO](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "cancelled", mine[0].Status)
}

func TestFulfillRedemption(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.praise(t, bobToken, "alice", "thanks").Code)
	rec := s.do(t, http.MethodPost, "/api/redemptions", aliceToken, RedeemRequest{RewardID: "coffee"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[RedemptionDTO](t, rec).ID

	rec = s.do(t, http.MethodPost, "/api/admin/redemptions/"+id+"/fulfill", adminToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fulfilled", decode[RedemptionDTO](t, rec).Status)
	assert.Zero(t, s.balance(t, aliceToken))

	missing := s.do(t, http.MethodPost, "/api/admin/redemptions/nope/fulfill", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestGetHistory_Paginates(t *testing.T) {
	s := newTestServer(t)
	for i := range 3 {
		require.Equal(t, http.StatusCreated, s.praise(t, aliceToken, "bob", fmt.Sprintf("note %d", i)).Code)
	}

	rec := s.do(t, http.MethodGet, "/api/me/history?page_size=2", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[HistoryPageDTO](t, rec)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "praise", page.Entries[0].Kind)
	assert.Equal(t, int64(10), page.Entries[0].Delta)

	rec = s.do(t, http.MethodGet, "/api/me/history?page_size=2&cursor="+page.NextCursor, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	last := decode[HistoryPageDTO](t, rec)
	assert.Len(t, last.Entries, 1)
	assert.Empty(t, last.NextCursor)
}

func TestGetHistory_BadQuery(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{"bad page size", "?page_size=ten"},
		{"negative page size", "?page_size=-1"},
		{"bad cursor", "?cursor=!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/me/history"+tt.query, bobToken, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/catalog/core-values", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]CoreValueDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/catalog/rewards", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rewards := decode[[]RewardDTO](t, rec)
	require.Len(t, rewards, 2)
	for _, r := range rewards {
		assert.True(t, r.Active)
	}
}

// =============================================================================
// ADMIN
// =============================================================================

func TestCreateUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/users", adminToken, CreateUserRequest{Name: "Carol", Email: "Carol@Example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	u := decode[UserDTO](t, rec)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "carol@example.com", u.Email)

	dup := s.do(t, http.MethodPost, "/api/admin/users", adminToken, CreateUserRequest{Name: "Carol 2", Email: "carol@example.com"})
	assert.Equal(t, http.StatusConflict, dup.Code)

	bad := s.do(t, http.MethodPost, "/api/admin/users", adminToken, CreateUserRequest{Name: "No Email"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRunAudit_Healthy(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.praise(t, aliceToken, "bob", "thanks").Code)

	rec := s.do(t, http.MethodGet, "/api/admin/audit", adminToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[AuditReportDTO](t, rec)
	assert.True(t, report.Healthy)
	assert.Equal(t, 3, report.Checked)
	assert.Empty(t, report.Drifts)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ledger.ErrUnauthenticated, http.StatusUnauthorized},
		{errForbidden, http.StatusForbidden},
		{fmt.Errorf("wrap: %w", ledger.ErrInvalidArgument), http.StatusBadRequest},
		{ledger.NotFound("reward", "x"), http.StatusNotFound},
		{&ledger.InsufficientBalanceError{UserID: "a", Available: 1, Requested: 2}, http.StatusUnprocessableEntity},
		{ledger.ErrRewardInactive, http.StatusUnprocessableEntity},
		{&ledger.InvalidStateError{RedemptionID: "r", From: ledger.RedemptionFulfilled, To: ledger.RedemptionCancelled}, http.StatusConflict},
		{ledger.ErrDuplicate, http.StatusConflict},
		{ledger.ErrConflict, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestFail_ConflictSetsRetryAfter(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()

	s.handler.fail(rec, httptest.NewRequest(http.MethodPost, "/api/redemptions", nil), ledger.ErrConflict)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestFail_InternalErrorIsLoggedNotLeaked(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()

	s.handler.fail(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil), fmt.Errorf("db exploded"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Empty(t, resp.Details)
	assert.True(t, strings.Contains(s.logs.String(), "db exploded"))
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestListUsers_DirectoryForAnyCaller(t *testing.T) {
	// GIVEN: Three registered users
	// WHEN: A non-admin caller lists the directory
	// THEN: Everyone is listed by id and name, without emails or balances
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.praise(t, aliceToken, "bob", "thanks").Code)

	rec := s.do(t, http.MethodGet, "/api/users", aliceToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []DirectoryEntryDTO{
		{ID: "admin", Name: "Admin"},
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
	}, decode[[]DirectoryEntryDTO](t, rec))
	assert.NotContains(t, rec.Body.String(), "@example.com")
	assert.NotContains(t, rec.Body.String(), "balance")

	anon := s.do(t, http.MethodGet, "/api/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
}
