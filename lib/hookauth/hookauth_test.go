package hookauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_DisabledWhenTokenEmpty(t *testing.T) {
	m := New("", nil)
	assert.False(t, m.Enabled())

	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	m := New("secret-token", nil)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_RejectsMismatchedToken(t *testing.T) {
	m := New("secret-token", nil)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_AcceptsMatchingToken(t *testing.T) {
	m := New("secret-token", nil)
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/opencode-event", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServiceSigner_SignAndVerify(t *testing.T) {
	signer := NewServiceSigner([]byte("signing-secret"), time.Minute)

	token, err := signer.Sign("ch1")
	require.NoError(t, err)

	channelID, err := signer.Verify(context.TODO(), token)
	require.NoError(t, err)
	assert.Equal(t, "ch1", channelID)
}

func TestServiceSigner_RejectsExpiredToken(t *testing.T) {
	signer := NewServiceSigner([]byte("signing-secret"), -time.Second)

	token, err := signer.Sign("ch1")
	require.NoError(t, err)

	_, err = signer.Verify(context.TODO(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceSigner_RejectsWrongSecret(t *testing.T) {
	signer := NewServiceSigner([]byte("signing-secret"), time.Minute)
	other := NewServiceSigner([]byte("different-secret"), time.Minute)

	token, err := signer.Sign("ch1")
	require.NoError(t, err)

	_, err = other.Verify(context.TODO(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware_GetRequestsBypassBearerCheck(t *testing.T) {
	m := New("sekrit", nil)
	var called bool
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/runtime/windows", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
