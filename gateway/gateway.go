// Package gateway wires the websocket transport to the Controller: it
// upgrades incoming HTTP connections, decodes client envelopes (spec
// §6), and forwards them to Controller.HandleMessage.
//
// Grounded on the teacher's server/handlers.go HandleWebSocket (upgrader
// construction, per-connection read/write pump goroutines) generalized
// from the teacher's single-purpose graph-update socket to the
// core's VIEW/INPUT_EVENT envelope.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/viewdeck/viewdeck/controller"
	"github.com/viewdeck/viewdeck/internal/logging"
	"github.com/viewdeck/viewdeck/transport"
)

// clientEnvelope mirrors spec §6's VIEW/INPUT_EVENT client message.
type clientEnvelope struct {
	Method   string                 `json:"method"`
	WindowID string                 `json:"window_id"`
	URL      string                 `json:"url"`
	Payload  map[string]interface{} `json:"payload"`
}

// defaultSendRate and defaultSendBurst bound outbound messages per connection
// (SPEC_FULL §3: golang.org/x/time/rate per-connection limiter).
const (
	defaultSendRate  = rate.Limit(50)
	defaultSendBurst = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway is an HTTP server whose /ws endpoint dispatches to a
// Controller.
type Gateway struct {
	ctrl    *controller.Controller
	httpSrv *http.Server
	logger  interface {
		Errorw(msg string, keysAndValues ...interface{})
		Infow(msg string, keysAndValues ...interface{})
	}
}

// New builds a Gateway bound to ctrl, listening on addr.
func New(ctrl *controller.Controller, addr string) *Gateway {
	g := &Gateway{ctrl: ctrl, logger: logging.Named("gateway")}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/", g.handleFrontendShell)

	g.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Start runs the HTTP server until it is stopped or fails. It returns
// http.ErrServerClosed on a graceful Stop.
func (g *Gateway) Start() error {
	g.logger.Infow("gateway: listening", "addr", g.httpSrv.Addr)
	return g.httpSrv.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.httpSrv.Shutdown(ctx)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleFrontendShell serves the plain-HTTP GET that bootstraps a
// client before it opens its websocket: the resolved route's
// frontend-shell handler (spec §6 FRONTEND_VIEW/CORE_FRONTEND_VIEW),
// rendered synchronously.
func (g *Gateway) handleFrontendShell(w http.ResponseWriter, r *http.Request) {
	dict, err := g.ctrl.RenderFrontendShell(r.Context(), r.URL.Path)
	if err != nil {
		g.logger.Errorw("gateway: frontend shell render failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	status := dict.Status
	if status == 0 {
		status = http.StatusOK
	}
	if dict.ContentType != "" {
		w.Header().Set("Content-Type", dict.ContentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(dict.Text))
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("gateway: websocket upgrade failed", "error", err)
		return
	}

	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}

	conn := transport.NewWSConnection(wsConn, user, defaultSendRate, defaultSendBurst)
	go conn.WritePump()

	defer func() {
		conn.Close()
		g.ctrl.RemoveConnection(conn)
	}()

	conn.ReadPump(func(raw []byte) {
		var env clientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.logger.Errorw("gateway: malformed client envelope", "error", err)
			return
		}

		msg := controller.Message{WindowID: env.WindowID, URL: env.URL, Payload: env.Payload}
		switch env.Method {
		case "VIEW":
			msg.Method = controller.MethodView
		case "INPUT_EVENT":
			msg.Method = controller.MethodInputEvent
		default:
			g.logger.Errorw("gateway: unknown envelope method", "method", env.Method)
			return
		}

		g.ctrl.HandleMessage(r.Context(), conn, msg)
	})
}
