package monitor

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_Status_NoAuthReturnsSnapshot(t *testing.T) {
	hub := NewHub(testLog(), func() StatusSnapshot {
		return StatusSnapshot{MarketOpen: true, ActiveOrderCount: 2}
	})
	r := NewRouter(hub, "", testLog())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"market_open":true`)
}

func TestRouter_Status_RejectsMissingToken(t *testing.T) {
	hub := NewHub(testLog(), func() StatusSnapshot { return StatusSnapshot{} })
	r := NewRouter(hub, "s3cret", testLog())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_Status_AcceptsValidToken(t *testing.T) {
	hub := NewHub(testLog(), func() StatusSnapshot { return StatusSnapshot{MarketOpen: true} })
	r := NewRouter(hub, "s3cret", testLog())

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestHub_ClientCountStartsZero(t *testing.T) {
	hub := NewHub(testLog(), nil)
	require.Equal(t, 0, hub.ClientCount())
}
