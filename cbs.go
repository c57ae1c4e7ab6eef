package eventhubscope

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/Azure/go-amqp"
	"github.com/Azure/azure-amqp-common-go/v4/auth"
	"github.com/Azure/azure-amqp-common-go/v4/rpc"
)

// CBS (Claims-Based Security) wire constants. Named per the AMQP CBS v1.0
// extension the service implements and per the put-token message shape
// github.com/Azure/azure-amqp-common-go/v4/cbs builds internally.
const (
	cbsNodeAddress   = "$cbs"
	cbsOperationKey  = "operation"
	cbsOperationName = "put-token"
	cbsTypeKey       = "type"
	cbsNameKey       = "name"
)

// cbsLink is the single, connection-scoped CBS sub-link. ConnectionFactory
// attaches exactly one of these immediately after opening the connection
// (spec.md §3 "CBS sub-link: exactly one per connection") and every
// subsequent authorization and refresh reuses it.
//
// Grounded on the vendored azure-service-bus-go receiver's negotiateClaim
// call (other_examples/0d00d4a7_…receiver.go.go:324), which drives
// github.com/Azure/azure-amqp-common-go/v4/cbs's NegotiateClaim. That
// package builds its put-token request/response round trip on top of
// github.com/Azure/azure-amqp-common-go/v4/rpc's Link, opening a fresh
// rpc.Link per call. This module instead opens the rpc.Link once, here,
// and keeps it for the connection's lifetime, since spec.md §4.1 step 5
// requires the CBS link to be attached once and discoverable on the
// connection rather than recreated per request.
type cbsLink struct {
	rpcLink *rpc.Link
}

// attachCBSLink opens the persistent $cbs request/response link on an
// already-open connection.
func attachCBSLink(ctx context.Context, conn *amqp.Conn) (*cbsLink, error) {
	link, err := rpc.NewLink(conn, cbsNodeAddress)
	if err != nil {
		return nil, wrapTransport("attach cbs link", err)
	}
	return &cbsLink{rpcLink: link}, nil
}

func (l *cbsLink) close(ctx context.Context) {
	_ = l.rpcLink.Close(ctx)
}

// requestToken implements the CBS Authorization contract (spec.md §4.6):
// it fetches a token from the credential scoped to the endpoint, sends a
// put-token request over the connection's attached CBS link, and returns
// the token's own expiry once the service acknowledges the claim.
//
// Per the CBS v1.0 extension the acknowledgement itself carries only a
// status code/description, not a server-computed expiry - "server-
// acknowledged expiry" here means "the expiry of the token the server just
// accepted", not a value independently computed by the service.
func requestToken(ctx context.Context, link *cbsLink, credential TokenCredential, endpoint string, audience string, claims []string, timeout time.Duration) (time.Time, error) {
	if link == nil {
		// ConnectionFactory guarantees attachment; reaching here is a
		// programming error, per spec.md §4.6.
		panic("eventhubscope: cbs link not attached on connection")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Debug("requesting cbs token", "audience", audience, "claims", claims)

	rawToken, expiryUTC, err := credential.GetToken(ctx, endpoint)
	if err != nil {
		return time.Time{}, wrapAuthorization("acquire token from credential", err)
	}

	token := &auth.Token{
		TokenType: auth.CBSTokenTypeSAS,
		Token:     rawToken,
		Expiry:    fmt.Sprintf("%d", expiryUTC.Unix()),
	}

	msg := &amqp.Message{
		Value: token.Token,
		ApplicationProperties: map[string]any{
			cbsOperationKey: cbsOperationName,
			cbsTypeKey:      string(token.TokenType),
			cbsNameKey:      audience,
		},
	}

	resp, err := link.rpcLink.RPC(ctx, msg)
	if err != nil {
		return time.Time{}, wrapAuthorization("put-token round trip", err)
	}
	if resp.Code < 200 || resp.Code >= 300 {
		return time.Time{}, wrapAuthorization("put-token rejected", fmt.Errorf("status %d: %s", resp.Code, resp.Description))
	}

	return expiryUTC, nil
}
