package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventhub/partner-portal/internal/apiclient"
	"github.com/eventhub/partner-portal/internal/config"
	"github.com/eventhub/partner-portal/internal/domain"
	"github.com/eventhub/partner-portal/internal/fcm"
	"github.com/eventhub/partner-portal/internal/middleware"
	"github.com/eventhub/partner-portal/internal/notify"
	"github.com/eventhub/partner-portal/internal/portal"
	"github.com/eventhub/partner-portal/internal/realtime"
	"github.com/eventhub/partner-portal/internal/realtime/realtimetest"
	"github.com/eventhub/partner-portal/internal/session"
	"github.com/eventhub/partner-portal/pkg/response"
)

var partnerPrincipal = &domain.Principal{ID: "p1", Name: "Partner", Email: "partner@example.com", Role: domain.RolePartner, AccessToken: "tok-p1"}

type fakeAuthorizer struct {
	mu    sync.Mutex
	calls int
	byTok map[string]*domain.Principal
}

func (f *fakeAuthorizer) Authorize(_ context.Context, creds domain.Credentials) (*domain.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if creds.TransferToken != "" {
		p, ok := f.byTok[creds.TransferToken]
		if !ok {
			return nil, domain.ErrTransferExpired
		}
		if !p.IsPartner() {
			return nil, domain.ErrNotPartner
		}
		cp := *p
		return &cp, nil
	}
	if creds.Email == "" || creds.Password == "" {
		return nil, domain.ErrCredentialsRequired
	}
	if creds.Email == "partner@example.com" && creds.Password == "secret" {
		cp := *partnerPrincipal
		return &cp, nil
	}
	return nil, domain.ErrInvalidCredentials
}

func (f *fakeAuthorizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeUpstream stands in for the external REST API.
type fakeUpstream struct {
	mu           sync.Mutex
	dashboard    domain.PartnerDashboard
	dashboardErr error
	detailsErr   error
	payouts      int
	partnerships []domain.PartnershipRequest
	history      map[string][]domain.ChatMessage
	records      []domain.NotificationRecord
	nextID       int
}

func (f *fakeUpstream) GetPartnerDashboard(_ context.Context, partnerID string) (*domain.PartnerDashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dashboardErr != nil {
		return nil, f.dashboardErr
	}
	d := f.dashboard
	d.PartnerID = partnerID
	return &d, nil
}

func (f *fakeUpstream) UpdatePaymentDetails(_ context.Context, _, details string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailsErr != nil {
		return "", f.detailsErr
	}
	f.dashboard.PaymentDetails = &details
	return "", nil
}

func (f *fakeUpstream) RequestPayout(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts++
	return "Запрос принят", nil
}

func (f *fakeUpstream) SubmitPartnership(_ context.Context, req domain.PartnershipRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partnerships = append(f.partnerships, req)
	return "", nil
}

func (f *fakeUpstream) GetSiteSettings(context.Context) *domain.SiteSettings {
	return &domain.SiteSettings{SiteName: "EventHub"}
}

func (f *fakeUpstream) GetMessages(_ context.Context, chatID string) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[chatID], nil
}

func (f *fakeUpstream) CreateMessage(_ context.Context, chatID, content string) (*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &domain.ChatMessage{ID: fmt.Sprintf("srv-%d", f.nextID), ChatID: chatID, Content: content}, nil
}

func (f *fakeUpstream) GetNotifications(context.Context) ([]domain.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *fakeUpstream) MarkNotificationRead(context.Context, string) error { return nil }

func (f *fakeUpstream) MarkAllNotificationsRead(context.Context) error { return nil }

type testServer struct {
	cfg      *config.Config
	store    *session.MemoryStore
	authz    *fakeAuthorizer
	upstream *fakeUpstream
	dialer   *realtimetest.Dialer
	registry *portal.Registry
	ws       *WebSocketManager
	handler  http.Handler

	mu      sync.Mutex
	logouts []string
}

func newTestServer(t *testing.T, loginLimit int) *testServer {
	t.Helper()
	logger := zap.NewNop()

	s := &testServer{
		cfg: &config.Config{
			Upstream: config.UpstreamConfig{WebAppURL: "http://app.test"},
			Auth:     config.AuthConfig{TokenExpiry: time.Hour},
		},
		store: session.NewMemoryStore(),
		authz: &fakeAuthorizer{byTok: map[string]*domain.Principal{
			"good":  partnerPrincipal,
			"admin": {ID: "a1", Role: "admin"},
		}},
		upstream: &fakeUpstream{
			dashboard: domain.PartnerDashboard{ReferralID: "ref42", Balance: 500, MinPayout: 1000},
			history:   map[string][]domain.ChatMessage{},
		},
		dialer: &realtimetest.Dialer{},
		ws:     NewWebSocketManager(nil, logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.ws.Run(ctx)

	s.registry = portal.NewRegistry(portal.Deps{
		Dialer:   s.dialer,
		Realtime: realtime.Options{MaxAttempts: 1, Delay: time.Millisecond},
		API:      func(string) portal.API { return s.upstream },
		Browser:  s.ws,
	}, logger)
	t.Cleanup(func() {
		cancel()
		s.registry.Close()
	})

	cookies := NewSessionCookies(s.store, "portal_session", time.Hour, false)
	partners := func(string) PartnerAPI { return s.upstream }
	onLogout := func(id string) {
		s.mu.Lock()
		s.logouts = append(s.logouts, id)
		s.mu.Unlock()
		s.registry.Shutdown(id)
		s.ws.DisconnectUser(id)
	}

	router := NewRouter(
		NewAuthHandler(s.authz, cookies, onLogout, logger),
		NewTransferHandler(s.authz, cookies, session.NewMemoryLatch(), partners, s.cfg, logger),
		NewPartnerHandler(partners, s.upstream, s.cfg, logger),
		NewNotificationHandler(s.registry, logger),
		NewChatHandler(s.registry, logger),
		NewRealtimeHandler(s.registry, s.ws, domain.NewPushService(fcm.NewMemoryTokenStore(), nil, logger), logger),
		NewHealthHandler(map[string]Check{"redis": func(context.Context) error { return nil }}),
		cookies,
		RateLimit{Limiter: middleware.NewMemoryLimiter(), Limit: loginLimit, Window: time.Minute},
		nil,
		logger,
	)
	s.handler = router.Setup()
	return s
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) sessionFor(t *testing.T, p *domain.Principal) *http.Cookie {
	t.Helper()
	sess, err := s.store.Create(context.Background(), p, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: "portal_session", Value: sess.ID}
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "portal_session" && c.Value != "" {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) response.Response {
	t.Helper()
	var env struct {
		Success bool                `json:"success"`
		Data    json.RawMessage     `json:"data"`
		Error   *response.ErrorInfo `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return response.Response{Success: env.Success, Error: env.Error}
}

func TestTransferCreatesSessionAndRedirects(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodGet, "/dashboard?v=good", nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = s.do(t, http.MethodGet, "/dashboard", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var view domain.DashboardView
	decode(t, rec, &view)
	assert.Equal(t, "p1", view.Partner.ID)
	assert.Equal(t, "http://app.test/register?ref=ref42", view.ReferralLink)
	assert.False(t, view.CanPayout)
	assert.NotNil(t, view.Dashboard.MonthlyRevenue)
}

func TestTransferFailureGoesToLogin(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"unknown token", "forged", domain.ErrTransferExpired},
		{"not a partner", "admin", domain.ErrNotPartner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/dashboard?v="+tt.token, nil, nil)
			require.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, s.cfg.LoginURL(tt.want.Error()), rec.Header().Get("Location"))
			assert.Nil(t, sessionCookie(rec))
		})
	}
}

func TestDashboardWithoutSession(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodGet, "/dashboard", nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://app.test/login", rec.Header().Get("Location"))

	admin := s.sessionFor(t, &domain.Principal{ID: "a1", Role: "admin"})
	rec = s.do(t, http.MethodGet, "/dashboard", nil, admin)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, s.cfg.LoginURL(domain.ErrNotPartner.Error()), rec.Header().Get("Location"))
}

func TestDuplicateTransferAuthorizesOnce(t *testing.T) {
	s := newTestServer(t, 100)

	first := s.do(t, http.MethodGet, "/dashboard?v=good", nil, nil)
	require.Equal(t, http.StatusSeeOther, first.Code)
	cookie := sessionCookie(first)
	require.NotNil(t, cookie)

	// The same link again from the browser that already signed in.
	again := s.do(t, http.MethodGet, "/dashboard?v=good", nil, cookie)
	require.Equal(t, http.StatusSeeOther, again.Code)
	assert.Equal(t, "/dashboard", again.Header().Get("Location"))

	// And from somewhere without the session.
	other := s.do(t, http.MethodGet, "/dashboard?v=good", nil, nil)
	require.Equal(t, http.StatusSeeOther, other.Code)
	assert.Equal(t, s.cfg.LoginURL(domain.ErrTransferExpired.Error()), other.Header().Get("Location"))

	assert.Equal(t, 1, s.authz.callCount())
}

func TestTransferNeverRedirectsWithToken(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)

	for _, target := range []string{"/dashboard?v=good", "/dashboard?v=good", "/dashboard?v=forged", "/dashboard"} {
		rec := s.do(t, http.MethodGet, target, nil, cookie)
		if rec.Code != http.StatusSeeOther {
			continue
		}
		loc := rec.Header().Get("Location")
		assert.NotContains(t, loc, "v=", target)
		assert.NotEqual(t, target, loc)
	}
}

func TestDashboardExpiredUpstreamToken(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)
	s.upstream.dashboardErr = &apiclient.APIError{Status: http.StatusUnauthorized, Message: "jwt expired"}

	rec := s.do(t, http.MethodGet, "/dashboard", nil, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, s.cfg.LoginURL(domain.ErrTransferExpired.Error()), rec.Header().Get("Location"))

	_, err := s.store.Get(context.Background(), cookie.Value)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestLoginAndLogout(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: "wrong@example.com", Password: "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decode(t, rec, nil)
	assert.Equal(t, domain.ErrInvalidCredentials.Error(), env.Error.Message)

	rec = s.do(t, http.MethodPost, "/auth/login", LoginRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: " Partner@Example.com ", Password: "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var login LoginResponse
	decode(t, rec, &login)
	assert.Equal(t, "p1", login.User.ID)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Equal(t, login.SessionID, cookie.Value)

	rec = s.do(t, http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me domain.Principal
	decode(t, rec, &me)
	assert.Equal(t, "Partner", me.Name)
	assert.NotContains(t, rec.Body.String(), "tok-p1", "the bearer token stays server side")

	// A running workspace goes away with the session.
	_, err := s.registry.Workspace(context.Background(), partnerPrincipal).OpenChat(context.Background(), "c1")
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"p1"}, s.logouts)
	assert.Equal(t, 0, s.registry.Len())

	rec = s.do(t, http.MethodGet, "/api/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/logout", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: "x@example.com", Password: "y"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/auth/login", LoginRequest{Email: "partner@example.com", Password: "secret"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPartnerEndpoints(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)

	rec := s.do(t, http.MethodGet, "/api/partner/dashboard", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/partner/payouts", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "balance below the minimum")

	s.upstream.dashboard.Balance = 1500
	rec = s.do(t, http.MethodPost, "/api/partner/payouts", nil, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec, nil)
	assert.Equal(t, "Сначала заполните платежные реквизиты.", env.Error.Message)

	rec = s.do(t, http.MethodPatch, "/api/partner/payment-details", paymentDetailsRequest{PaymentDetails: "  "}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env = decode(t, rec, nil)
	assert.Contains(t, env.Error.Fields, "paymentDetails")

	rec = s.do(t, http.MethodPatch, "/api/partner/payment-details", paymentDetailsRequest{PaymentDetails: "IBAN 123"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/partner/payouts", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var msg messageResponse
	decode(t, rec, &msg)
	assert.Equal(t, "Запрос принят", msg.Message)
	assert.Equal(t, 1, s.upstream.payouts)
}

func TestUpstreamValidationErrorsAreRelayed(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)
	s.upstream.detailsErr = &apiclient.APIError{
		Status:           http.StatusUnprocessableEntity,
		Message:          "Validation failed",
		ValidationErrors: map[string]string{"paymentDetails": "too short"},
	}

	rec := s.do(t, http.MethodPatch, "/api/partner/payment-details", paymentDetailsRequest{PaymentDetails: "x"}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec, nil)
	assert.Equal(t, "too short", env.Error.Fields["paymentDetails"])
}

func TestPartnershipRequest(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/api/partnership-request", domain.PartnershipRequest{Name: "A", Email: "bad", Website: "nope"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec, nil)
	assert.Len(t, env.Error.Fields, 3)

	rec = s.do(t, http.MethodPost, "/api/partnership-request", domain.PartnershipRequest{Name: "Анна", Email: "Anna@Example.com", Website: "https://blog.example.com"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, s.upstream.partnerships, 1)
	assert.Equal(t, "anna@example.com", s.upstream.partnerships[0].Email)
}

func TestNotificationEndpoints(t *testing.T) {
	s := newTestServer(t, 100)
	s.upstream.records = []domain.NotificationRecord{
		{ID: "n1", Type: "SYSTEM", Message: "one"},
		{ID: "n2", Type: "SYSTEM", Message: "two"},
	}
	cookie := s.sessionFor(t, partnerPrincipal)

	rec := s.do(t, http.MethodGet, "/api/notifications", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		Items       []json.RawMessage `json:"items"`
		UnreadCount int               `json:"unreadCount"`
	}
	decode(t, rec, &snap)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 2, snap.UnreadCount)

	rec = s.do(t, http.MethodPatch, "/api/notifications/n1/read", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var mark markReadResponse
	decode(t, rec, &mark)
	assert.Equal(t, markReadResponse{Changed: 1, UnreadCount: 1, Synced: true}, mark)

	rec = s.do(t, http.MethodPatch, "/api/notifications/read-all", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &mark)
	assert.Equal(t, 0, mark.UnreadCount)

	rec = s.do(t, http.MethodGet, "/api/notifications", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEndpoints(t *testing.T) {
	s := newTestServer(t, 100)
	s.upstream.history["c1"] = []domain.ChatMessage{{ID: "m1", ChatID: "c1", Content: "hello"}}
	cookie := s.sessionFor(t, partnerPrincipal)

	rec := s.do(t, http.MethodGet, "/api/chats/c1/messages", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code, "not open yet")

	rec = s.do(t, http.MethodPost, "/api/chats/c1/open", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var opened struct {
		Messages       []domain.ChatMessage `json:"messages"`
		ScrollToLatest bool                 `json:"scrollToLatest"`
	}
	decode(t, rec, &opened)
	assert.Len(t, opened.Messages, 1)
	assert.True(t, opened.ScrollToLatest, "a freshly opened chat scrolls to the latest message")

	rec = s.do(t, http.MethodPost, "/api/chats/c1/messages", SendMessageRequest{Content: "   "}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/chats/c1/messages", SendMessageRequest{Content: "hi there"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sent domain.ChatMessage
	decode(t, rec, &sent)
	assert.Equal(t, "srv-1", sent.ID)
	assert.Equal(t, domain.StatusSent, sent.Status)

	rec = s.do(t, http.MethodGet, "/api/chats/c1/messages", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		ChatID   string               `json:"chatId"`
		Messages []domain.ChatMessage `json:"messages"`
	}
	decode(t, rec, &view)
	assert.Len(t, view.Messages, 2)

	rec = s.do(t, http.MethodDelete, "/api/chats/c1", nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/chats/c1/messages", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresenceAndPushSubscribe(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)

	rec := s.do(t, http.MethodGet, "/api/presence", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var presence portal.Presence
	decode(t, rec, &presence)
	assert.Equal(t, realtime.StatusOpen, presence.Status)

	rec = s.do(t, http.MethodPost, "/api/push/subscribe", PushSubscribeRequest{Token: ""}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/push/subscribe", PushSubscribeRequest{Token: "device-1"}, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Checks["redis"])
}

func TestBrowserWebsocketHoldsWorkspace(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", cookie.String())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	seen := map[string]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !(seen["presence"] && seen[notify.PublishKind]) {
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
	}
	assert.Equal(t, 1, s.registry.Len())
	require.Eventually(t, func() bool { return s.ws.Connected("p1") == 1 }, time.Second, 5*time.Millisecond)

	// Upstream events reach the tab.
	s.dialer.Conn(0).Push(realtime.EventNotification, map[string]interface{}{
		"type": "TOKEN", "data": map[string]string{"tokenCode": "T-9"},
	})
	for {
		var ev struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == "alert" {
			var alert domain.Alert
			require.NoError(t, json.Unmarshal(ev.Payload, &alert))
			assert.Equal(t, "Token: T-9", alert.Description)
			break
		}
	}

	conn.Close()
	require.Eventually(t, func() bool { return s.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.dialer.Conn(0).Closed())
}

func TestCatchUpGoesToTheNewTabOnly(t *testing.T) {
	s := newTestServer(t, 100)
	cookie := s.sessionFor(t, partnerPrincipal)

	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	type event struct {
		Type string `json:"type"`
	}
	dial := func() *websocket.Conn {
		header := http.Header{}
		header.Set("Cookie", cookie.String())
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		var first, second event
		require.NoError(t, conn.ReadJSON(&first))
		require.NoError(t, conn.ReadJSON(&second))
		assert.Equal(t, "presence", first.Type, "catch-up is the first thing a tab reads")
		assert.Equal(t, notify.PublishKind, second.Type)
		return conn
	}

	tabA := dial()
	defer tabA.Close()
	require.Eventually(t, func() bool { return s.ws.Connected("p1") == 1 }, time.Second, 5*time.Millisecond)
	tabB := dial()
	defer tabB.Close()
	require.Eventually(t, func() bool { return s.ws.Connected("p1") == 2 }, time.Second, 5*time.Millisecond)

	s.dialer.Conn(0).Push(realtime.EventNotification, map[string]interface{}{
		"type": "TOKEN", "data": map[string]string{"tokenCode": "T-1"},
	})
	for {
		var ev event
		require.NoError(t, tabA.ReadJSON(&ev))
		require.NotEqual(t, "presence", ev.Type, "the first tab gets no second catch-up")
		if ev.Type == "alert" {
			break
		}
	}
	assert.Equal(t, 1, s.registry.Len())
}

func TestWebsocketRequiresSession(t *testing.T) {
	s := newTestServer(t, 100)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
