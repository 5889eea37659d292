package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sboxrun/sandboxd/internal/log"
)

var upgrader = websocket.Upgrader{
	// Preview traffic is same-origin by construction (the client only
	// ever talks to <session-id>.<preview_domain>); the proxy has no
	// policy of its own to enforce here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relayWebSocket upgrades the client connection, dials the backend at
// 127.0.0.1:port, and runs two independent unidirectional relays until
// either side closes or errors.
func relayWebSocket(w http.ResponseWriter, r *http.Request, port int) {
	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("proxy: websocket upgrade failed", "err", err)
		return
	}
	defer clientConn.Close()

	target := fmt.Sprintf("ws://127.0.0.1:%d%s", port, requestURI(r))
	backendConn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		_ = clientConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(
			websocket.CloseTryAgainLater, fmt.Sprintf("backend unavailable on port %d", port)))
		return
	}
	defer backendConn.Close()

	// Forward ping/pong as their own frames instead of letting gorilla's
	// default handlers auto-reply locally: the relay must carry every
	// frame variant to the other side untouched, not answer on its peer's
	// behalf.
	forwardControl(clientConn, backendConn)
	forwardControl(backendConn, clientConn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Closing both connections once either pump returns unblocks the
	// other pump's pending read, so a close or error on one side ends
	// both relays.
	go func() {
		<-ctx.Done()
		_ = clientConn.Close()
		_ = backendConn.Close()
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return pumpFrames(clientConn, backendConn)
	})
	g.Go(func() error {
		defer cancel()
		return pumpFrames(backendConn, clientConn)
	})
	// Errors here are the ordinary "peer hung up" case; the relay's job
	// was to carry frames until one side stopped, not to report why.
	_ = g.Wait()
}

// forwardControl rewires src's ping/pong handlers to write the same
// control frame to dst rather than auto-responding on src itself.
func forwardControl(dst, src *websocket.Conn) {
	src.SetPingHandler(func(appData string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(appData), deadline())
	})
	src.SetPongHandler(func(appData string) error {
		return dst.WriteControl(websocket.PongMessage, []byte(appData), deadline())
	})
}

func deadline() time.Time {
	return time.Now().Add(5 * time.Second)
}

// pumpFrames reads frames from src and writes them to dst, one at a
// time, until src closes or either side errors. Ping/pong frames are
// intercepted by the handlers forwardControl installs; this loop only
// ever sees text, binary, and (via the returned error) close frames.
func pumpFrames(dst, src *websocket.Conn) error {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				_ = dst.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeErr.Code, closeErr.Text))
			}
			return err
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return err
		}
	}
}
