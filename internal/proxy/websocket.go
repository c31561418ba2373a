package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/vortexgw/vortex/internal/backend"
	"github.com/vortexgw/vortex/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// IsWebSocketUpgrade reports whether the request asks for a WebSocket
// upgrade.
func IsWebSocketUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// ServeWebSocket upgrades the client connection, dials a host from the
// group, and relays messages in both directions until either side closes.
// The upgrade handshake response is forwarded; normal response buffering
// and response filters do not apply.
func (f *Forwarder) ServeWebSocket(w http.ResponseWriter, r *http.Request, group *backend.Group) error {
	host, err := group.Pick()
	if err != nil {
		websocketConnectionsTotal.WithLabelValues(group.Name(), "no_host").Inc()
		return err
	}

	backendURL := buildBackendWSURL(group, host, r)

	dialer := websocket.Dialer{}
	if t, ok := f.transport.(*http.Transport); ok && t.TLSClientConfig != nil {
		dialer.TLSClientConfig = t.TLSClientConfig.Clone()
	}

	backendConn, resp, err := dialer.DialContext(r.Context(), backendURL, wsForwardHeaders(r))
	if err != nil {
		group.MarkFailure(host)
		websocketConnectionsTotal.WithLabelValues(group.Name(), "dial_failed").Inc()
		forwardDialError(w, resp)
		return fmt.Errorf("failed to dial backend websocket %s: %w", backendURL, err)
	}
	defer backendConn.Close()
	if resp != nil {
		defer resp.Body.Close()
	}

	clientConn, err := upgrader.Upgrade(w, r, wsResponseHeaders(resp))
	if err != nil {
		websocketConnectionsTotal.WithLabelValues(group.Name(), "upgrade_failed").Inc()
		return fmt.Errorf("failed to upgrade client connection: %w", err)
	}
	defer clientConn.Close()

	host.Acquire()
	defer host.Release()
	websocketConnectionsTotal.WithLabelValues(group.Name(), "open").Inc()

	f.logger.Debug("websocket session open",
		observability.String("route", group.Name()),
		observability.String("host", host.Addr()))

	relay(clientConn, backendConn)
	return nil
}

// relay copies messages between the two connections until one direction
// fails, then signals a normal close to the other side.
func relay(clientConn, backendConn *websocket.Conn) {
	errCh := make(chan error, 2)

	pump := func(dst, src *websocket.Conn) {
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				_ = dst.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				errCh <- err
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				errCh <- err
				return
			}
		}
	}

	go pump(clientConn, backendConn)
	go pump(backendConn, clientConn)

	<-errCh
}

func buildBackendWSURL(group *backend.Group, host *backend.Host, r *http.Request) string {
	scheme := "ws"
	if group.Scheme() == "https" {
		scheme = "wss"
	}

	u := scheme + "://" + host.Addr() + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// wsForwardHeaders is the request header set for the backend dial. The
// websocket library supplies the handshake headers itself.
func wsForwardHeaders(r *http.Request) http.Header {
	header := http.Header{}
	for k, vv := range r.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}

func wsResponseHeaders(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	header := http.Header{}
	for k, vv := range resp.Header {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-accept":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}

func forwardDialError(w http.ResponseWriter, resp *http.Response) {
	if resp == nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}
