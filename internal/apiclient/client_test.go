package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoAttachesBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"partnerId":"p1","referralId":"r1","balance":1200.5,"totalEarned":5000}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", srv.Client()).WithToken("tok")
	d, err := c.GetPartnerDashboard(context.Background(), "p1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/api/partners/p1/dashboard", gotPath)
	assert.Equal(t, 1200.5, d.Balance)
	assert.Equal(t, "r1", d.ReferralID)
}

func TestDoWithoutTokenSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, nil).MarkAllNotificationsRead(context.Background()))
}

func TestDoDecodesValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation failed","errors":[{"path":"paymentDetails","message":"too short"},{"path":"","message":"ignored"}]}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).UpdatePaymentDetails(context.Background(), "p1", "x")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Validation failed", apiErr.Message)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, map[string]string{"paymentDetails": "too short"}, apiErr.ValidationErrors)
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))
}

func TestDoFallsBackToStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).GetMessages(context.Background(), "c1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestDoNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).GetNotifications(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.Status)
}

func TestCreateMessageSendsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chats/c1/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		_, _ = w.Write([]byte(`{"id":"m42","chatId":"c1","senderId":"p1","content":"hello","createdAt":"2026-01-02T10:00:00Z"}`))
	}))
	defer srv.Close()

	msg, err := New(srv.URL, nil).CreateMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m42", msg.ID)
}

func TestGetNotificationsAcceptsNumericIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":17,"type":"JOB","message":"m","isRead":false,"createdAt":"2026-01-02T10:00:00Z"},{"id":"n2","type":"TOKEN","isRead":true,"createdAt":"2026-01-02T09:00:00Z"}]`))
	}))
	defer srv.Close()

	records, err := New(srv.URL, nil).GetNotifications(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "17", string(records[0].ID))
	assert.Equal(t, "n2", string(records[1].ID))
}

func TestGetSiteSettingsNilOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Nil(t, New(srv.URL, nil).GetSiteSettings(context.Background()))
}
