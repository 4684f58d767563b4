/*
Package ldap implements the client operation engine behind the ldapops
command: it establishes an authenticated, optionally encrypted connection to a
directory server and runs correlated compare and delete exchanges against it.

# Architecture Overview

The package is organized into several core components:

  - Transport: TCP dial with socket tuning, LDAPS and in-place StartTLS upgrade
  - Codec: BER encoding of requests and decoding of responses
  - Authenticator: simple, SASL (EXTERNAL, PLAIN, CRAM-MD5, DIGEST-MD5, GSSAPI) and anonymous binds
  - Connection: message ID allocation, request/response correlation and close
  - Executors: compare and delete, with dry-run and result classification
  - BatchRunner: ordered processing of target DNs with continue-on-error

# Connection Lifecycle

Open validates the options before any network I/O, dials, negotiates TLS and
binds. Every message on a connection, StartTLS and bind included, draws its
ID from the same counter, starting at 1. A connection is owned by a single
goroutine and must be closed exactly once; Close is idempotent.

# Controls

Request controls can be given by OID or by alias (see ResolveControlAlias).
Response controls are decoded into typed values (AuthzIDResponse,
PasswordExpired, PasswordExpiring, PasswordPolicyResponse) or OpaqueControl.

# Error Handling

Failures are reported through typed errors that carry a result code:

  - ConnectError: the connection could not be established (91)
  - AuthError: the bind was rejected (server result code)
  - LDAPError: an operation returned a non-acceptable result code
  - ProtocolError: a response could not be decoded (84)
  - TransportError: the connection was lost (81)
  - ParamError: options were rejected before any I/O (89)

ResultCode maps any of them to the process exit status.

# Example Usage

	opts := ldap.DefaultConnectionOptions()
	opts.Host = "ldap.example.com"
	opts.TLSMode = ldap.TLSModeStartTLS
	opts.BindDN = "cn=Directory Manager"
	opts.BindPassword = "password"

	conn, err := ldap.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	batch := &ldap.BatchOptions{ContinueOnError: true}
	runner := ldap.NewBatchRunner(ldap.NewDeleteExecutor(ldap.DeleteParams{}, batch), batch, os.Stdout, os.Stderr)
	summary := runner.Run(ctx, conn, ldap.NewSliceTargets("uid=bob,dc=example,dc=com"))
	os.Exit(summary.ExitCode())
*/
package ldap
