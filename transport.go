package eventhubscope

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

const (
	tcpTLSDefaultPort = 5671
	webSocketPath     = "/$servicebus/websocket/"
)

// dialTransport opens the raw net.Conn for the selected transport kind.
// Grounded on the teacher's config.Dial hook in rabbit.New (a
// net.DialTimeout wrapped with a deadline) generalized to the two
// transport profiles spec.md §4.1 step 3 names.
func dialTransport(ctx context.Context, kind TransportKind, endpoint *url.URL, proxyCfg *ProxyConfig) (net.Conn, error) {
	switch kind {
	case TCPTLS:
		return dialTCPTLS(ctx, endpoint)
	case WebSockets:
		return dialWebSocket(ctx, endpoint, proxyCfg)
	default:
		return nil, NewArgumentError("unsupported transport %v", kind)
	}
}

func dialTCPTLS(ctx context.Context, endpoint *url.URL) (net.Conn, error) {
	port := endpoint.Port()
	addr := endpoint.Hostname()
	if port == "" {
		addr = net.JoinHostPort(endpoint.Hostname(), fmt.Sprintf("%d", tcpTLSDefaultPort))
	} else {
		addr = net.JoinHostPort(endpoint.Hostname(), port)
	}

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapTransport("dial tcp", err)
	}

	tlsConn := tls.Client(raw, &tls.Config{
		ServerName: endpoint.Hostname(),
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, wrapTransport("tls handshake", err)
	}
	return tlsConn, nil
}

func dialWebSocket(ctx context.Context, endpoint *url.URL, proxyCfg *ProxyConfig) (net.Conn, error) {
	wsURL := url.URL{
		Scheme: "wss",
		Host:   endpoint.Hostname(),
		Path:   webSocketPath,
	}

	dialer := &websocket.Dialer{
		Subprotocols:     []string{"amqp"},
		HandshakeTimeout: 45 * time.Second,
	}

	if proxyCfg != nil && proxyCfg.URL != nil {
		proxied, err := proxy.FromURL(proxyCfg.URL, proxy.Direct)
		if err != nil {
			return nil, wrapTransport("configure proxy", err)
		}
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return proxied.Dial(network, addr)
		}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, wrapTransport("dial websocket", err)
	}
	return newWebSocketNetConn(conn), nil
}

// webSocketNetConn adapts a gorilla *websocket.Conn (message-framed) to the
// net.Conn (byte-stream) interface AMQP transports expect, buffering partial
// reads across websocket message boundaries.
type webSocketNetConn struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func newWebSocketNetConn(ws *websocket.Conn) *webSocketNetConn {
	return &webSocketNetConn{ws: ws}
}

func (c *webSocketNetConn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf.Write(data)
	}
	return c.buf.Read(p)
}

func (c *webSocketNetConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *webSocketNetConn) Close() error                      { return c.ws.Close() }
func (c *webSocketNetConn) LocalAddr() net.Addr               { return c.ws.LocalAddr() }
func (c *webSocketNetConn) RemoteAddr() net.Addr              { return c.ws.RemoteAddr() }
func (c *webSocketNetConn) SetDeadline(t time.Time) error      { return c.ws.UnderlyingConn().SetDeadline(t) }
func (c *webSocketNetConn) SetReadDeadline(t time.Time) error  { return c.ws.UnderlyingConn().SetReadDeadline(t) }
func (c *webSocketNetConn) SetWriteDeadline(t time.Time) error { return c.ws.UnderlyingConn().SetWriteDeadline(t) }

var _ net.Conn = (*webSocketNetConn)(nil)
var _ io.ReadWriteCloser = (*webSocketNetConn)(nil)
