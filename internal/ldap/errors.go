package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryProtocol       ErrorCategory = "protocol"
	ErrorCategoryParameter      ErrorCategory = "parameter"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError is a non-acceptable result returned by the server for an operation.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	ServerMsg string        // Diagnostic message
	DN        string        // Target DN of the operation
	MatchedDN string        // Matched DN returned by the server
	Referrals []string      // Referral URLs returned by the server
}

func (e *LDAPError) Error() string {
	parts := []string{fmt.Sprintf("LDAP %s failed: %s (%d)", e.Operation, ResultCodeName(e.LDAPCode), e.LDAPCode)}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	if e.ServerMsg != "" {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.MatchedDN != "" {
		parts = append(parts, fmt.Sprintf("matched DN: %s", e.MatchedDN))
	}

	return strings.Join(parts, " - ")
}

// ResultCode returns the LDAP result code.
func (e *LDAPError) ResultCode() uint16 {
	return e.LDAPCode
}

// NewLDAPError builds an LDAPError from an operation result.
func NewLDAPError(operation, dn string, result *Result) *LDAPError {
	if result == nil {
		return nil
	}

	return &LDAPError{
		Operation: operation,
		Category:  categorizeError(result.Code),
		LDAPCode:  result.Code,
		ServerMsg: result.DiagnosticMessage,
		DN:        dn,
		MatchedDN: result.MatchedDN,
		Referrals: result.Referrals,
	}
}

// ConnectFailure classifies why a connection could not be established.
type ConnectFailure int

const (
	ConnectFailureIO ConnectFailure = iota
	ConnectFailureUnknownHost
	ConnectFailureRefused
	ConnectFailureTimeout
	ConnectFailureStartTLSRejected
	ConnectFailureTLSHandshake
)

// String returns string representation of the connect failure kind.
func (f ConnectFailure) String() string {
	switch f {
	case ConnectFailureIO:
		return "io"
	case ConnectFailureUnknownHost:
		return "unknown_host"
	case ConnectFailureRefused:
		return "refused"
	case ConnectFailureTimeout:
		return "timeout"
	case ConnectFailureStartTLSRejected:
		return "starttls_rejected"
	case ConnectFailureTLSHandshake:
		return "tls_handshake"
	default:
		return "unknown"
	}
}

// ConnectError is returned when the transport could not be established.
type ConnectError struct {
	Kind    ConnectFailure
	Address string
	// ServerCode is the result code of a rejected StartTLS request.
	ServerCode uint16
	Message    string
	Cause      error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("cannot connect to %s: %s", e.Address, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// ResultCode returns the client-side connect error code.
func (e *ConnectError) ResultCode() uint16 {
	return ldap.LDAPResultConnectError
}

// AuthError is returned when a bind fails, either rejected by the server or
// aborted by the client-side mechanism.
type AuthError struct {
	Mechanism string
	Code      uint16
	MatchedDN string
	Message   string
	// Notices are derived from the response controls of a rejected bind.
	Notices []string
	Cause   error
}

func (e *AuthError) Error() string {
	parts := []string{fmt.Sprintf("%s bind failed: %s (%d)", e.Mechanism, ResultCodeName(e.Code), e.Code)}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.MatchedDN != "" {
		parts = append(parts, fmt.Sprintf("matched DN: %s", e.MatchedDN))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " - ")
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

func (e *AuthError) ResultCode() uint16 {
	return e.Code
}

// ProtocolError is returned when a response cannot be decoded. The
// connection framing is intact, so the connection remains usable.
type ProtocolError struct {
	Operation string
	MessageID int64
	Cause     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unable to decode %s response for message %d: %v", e.Operation, e.MessageID, e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func (e *ProtocolError) ResultCode() uint16 {
	return ldap.LDAPResultDecodingError
}

// TransportError is returned when the connection is lost or unusable.
type TransportError struct {
	Operation string
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection lost during %s: %v", e.Operation, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func (e *TransportError) ResultCode() uint16 {
	return ldap.LDAPResultServerDown
}

// ParamError is returned when options are invalid before any network I/O.
type ParamError struct {
	Field   string
	Message string
}

// NewParamError creates a new parameter error.
func NewParamError(field, message string) *ParamError {
	return &ParamError{Field: field, Message: message}
}

func (e *ParamError) Error() string {
	return e.Message
}

func (e *ParamError) ResultCode() uint16 {
	return ldap.LDAPResultParamError
}

type resultCoder interface {
	ResultCode() uint16
}

// ResultCode returns the LDAP result code carried by err, or the client-side
// local error code for errors outside the engine's taxonomy.
func ResultCode(err error) uint16 {
	if err == nil {
		return ldap.LDAPResultSuccess
	}

	var coder resultCoder
	if errors.As(err, &coder) {
		return coder.ResultCode()
	}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return ldapErr.ResultCode
	}

	return ldap.LDAPResultLocalError
}

// ResultCodeName returns the standard name of an LDAP result code.
func ResultCodeName(code uint16) string {
	if name, ok := ldap.LDAPResultCodeMap[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Result Code %d", code)
}

// categorizeError categorizes an error based on LDAP result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultAuthMethodNotSupported:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform,
		ldap.LDAPResultAuthorizationDenied:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ldap.LDAPResultNotAllowedOnNonLeaf,
		ldap.LDAPResultAssertionFailed:
		return ErrorCategoryConflict

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultInappropriateMatching:
		return ErrorCategoryValidation

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ldap.LDAPResultConnectError:
		return ErrorCategoryConnection

	case ldap.LDAPResultProtocolError,
		ldap.LDAPResultDecodingError,
		ldap.LDAPResultUnavailableCriticalExtension:
		return ErrorCategoryProtocol

	case ldap.LDAPResultParamError:
		return ErrorCategoryParameter

	default:
		return ErrorCategoryUnknown
	}
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return ErrorCategoryConnection
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ErrorCategoryConnection
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return ErrorCategoryAuthentication
	}

	return categorizeError(ResultCode(err))
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsConnectionError checks if an error means the connection is unusable.
func IsConnectionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConnection
}
