package ldap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// startTLS negotiates StartTLS on the plain transport and upgrades the same
// socket in place. The extended request draws its ID from the connection
// counter like every other request.
func (c *Connection) startTLS(ctx context.Context, transport *netTransport, cfg *tls.Config) error {
	address := c.opts.Address()

	resp, err := c.RoundTrip(ctx, &ExtendedRequest{OID: ExtendedOperationStartTLS}, nil)
	if err != nil {
		return &ConnectError{
			Kind:    ConnectFailureIO,
			Address: address,
			Message: "StartTLS negotiation failed",
			Cause:   err,
		}
	}

	if resp.Result.Code != ldap.LDAPResultSuccess {
		message := resp.Result.DiagnosticMessage
		if message == "" {
			message = fmt.Sprintf("response code: %d", resp.Result.Code)
		}
		tflog.SubsystemWarn(ctx, "ldap", "StartTLS rejected by server", map[string]any{
			"address":     address,
			"result_code": resp.Result.Code,
		})
		return &ConnectError{
			Kind:       ConnectFailureStartTLSRejected,
			Address:    address,
			ServerCode: resp.Result.Code,
			Message:    message,
		}
	}

	if err := transport.upgradeTLS(ctx, cfg); err != nil {
		return &ConnectError{
			Kind:    ConnectFailureTLSHandshake,
			Address: address,
			Message: "TLS handshake failed",
			Cause:   err,
		}
	}

	tflog.SubsystemDebug(ctx, "ldap", "StartTLS negotiated", map[string]any{
		"address":    address,
		"message_id": resp.MessageID,
	})
	return nil
}
