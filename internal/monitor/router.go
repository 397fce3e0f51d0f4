package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"ktrader/internal/model"
)

// StatusSnapshot is the JSON body returned by GET /status and embedded in
// a newly-connected client's initial WebSocket message.
type StatusSnapshot struct {
	Portfolio         model.Portfolio `json:"portfolio"`
	MarketOpen        bool            `json:"market_open"`
	KillSwitchActive  bool            `json:"kill_switch_active"`
	ActiveOrderCount  int             `json:"active_order_count"`
	DailyTradeCount   int             `json:"daily_trade_count"`
	LastSignalTime    time.Time       `json:"last_signal_time"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the gorilla/mux router for the status surface. jwtSecret
// empty disables auth (suitable for a localhost-only deployment); non-empty
// requires a valid Bearer JWT signed with that secret on every route.
func NewRouter(hub *Hub, jwtSecret string, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		var status StatusSnapshot
		if hub.snapshot != nil {
			status = hub.snapshot()
		}
		status.GeneratedAt = time.Now().UTC()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn("monitor: ws upgrade failed", "error", err)
			return
		}
		hub.Register(conn)
	}).Methods(http.MethodGet)

	if jwtSecret != "" {
		r.Use(authMiddleware(jwtSecret, log))
	}

	return r
}

// authMiddleware validates a Bearer JWT on every request using HS256 and
// the shared secret. Grounded on the pquerna/otp-based TOTP broker-login
// flow this codebase already uses elsewhere for a second factor; this is
// the first-factor bearer-token check guarding the read-only status API.
func authMiddleware(secret string, log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil {
				log.Warn("monitor: rejected request", "error", err, "path", r.URL.Path)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
