package ws

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

var errUnauthorized = errors.New("wire: unauthorized")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AuthFunc validates an inbound connection before upgrade, returning the
// authenticated robot_id or an error. Either a pre-shared API key header or
// a verified mTLS client certificate satisfies spec.md §6's authentication
// requirement.
type AuthFunc func(r *http.Request) (robotID string, err error)

// Server accepts robot WebSocket connections and hands each one, once
// authenticated, to onConnect for message handling.
type Server struct {
	log       *logger.Logger
	auth      AuthFunc
	onConnect func(robotID string, conn *Conn)

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewServer constructs a Server. It takes no TLS configuration: mTLS, when
// used, is set on the listener (see wire.TLSConfig), and auth decides which
// credential is accepted (APIKeyAuth or MTLSAuth).
func NewServer(log *logger.Logger, auth AuthFunc, onConnect func(robotID string, conn *Conn)) *Server {
	return &Server{
		log:       log.With("component", "wire.ws.server"),
		auth:      auth,
		onConnect: onConnect,
		conns:     make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the connection after running auth, matching the
// standard net/http handler shape so it can be mounted directly on gin's
// router via c.Request/c.Writer (spec.md §6 transport).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	robotID, err := s.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConn(r.Context(), raw, s.log)
	s.mu.Lock()
	s.conns[robotID] = conn
	s.mu.Unlock()

	s.log.Info("robot connected over wire protocol", "robot_id", robotID)
	if s.onConnect != nil {
		s.onConnect(robotID, conn)
	}
}

// Lookup returns the active connection for robotID, if any.
func (s *Server) Lookup(robotID string) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[robotID]
	return c, ok
}

// Forget removes a closed connection's registration.
func (s *Server) Forget(robotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, robotID)
}

// APIKeyAuth builds an AuthFunc checking the X-Robot-Id / Authorization
// headers against a lookup function, the pre-shared-key half of spec.md
// §6's authentication requirement.
func APIKeyAuth(validate func(robotID, apiKey string) bool) AuthFunc {
	return func(r *http.Request) (string, error) {
		robotID := r.Header.Get("X-Robot-Id")
		apiKey := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if robotID == "" || apiKey == "" || !validate(robotID, apiKey) {
			return "", errUnauthorized
		}
		return robotID, nil
	}
}

// MTLSAuth builds an AuthFunc that trusts the verified client certificate's
// common name as the robot id (server must be serving with
// tls.RequireAndVerifyClientCert, see wire.TLSConfig).
func MTLSAuth() AuthFunc {
	return func(r *http.Request) (string, error) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			return "", errUnauthorized
		}
		return r.TLS.PeerCertificates[0].Subject.CommonName, nil
	}
}
