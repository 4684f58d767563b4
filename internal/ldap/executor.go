package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Executor runs one kind of operation against a single target DN.
type Executor interface {
	// Name is the operation name used in logs.
	Name() string
	// Describe returns the line announcing the operation on target.
	Describe(target string) string
	// Execute performs the operation. A server result outside the
	// operation's acceptable codes is returned as an *LDAPError together with
	// the result. Transport and decode failures return no result.
	Execute(ctx context.Context, conn RoundTripper, target string) (*OperationResult, error)
	// Report returns the line describing an acceptable result.
	Report(target string, result *OperationResult) string
}

// OperationResult is the classified outcome of one operation.
type OperationResult struct {
	MessageID         int64
	ResultCode        uint16
	DiagnosticMessage string
	MatchedDN         string
	Referrals         []string
	Controls          []ResponseControl
	// Acceptable reports whether ResultCode is in the operation's acceptable set.
	Acceptable bool
	// DryRun is set when the operation was not sent to the server.
	DryRun bool
}

// IsReferral reports whether the server answered with a referral.
func (r *OperationResult) IsReferral() bool {
	return r.ResultCode == ldap.LDAPResultReferral
}

func dryRunResult() *OperationResult {
	return &OperationResult{Acceptable: true, DryRun: true}
}

// exchange sends op, classifies the response against acceptable and builds
// the result. A failure result always carries a diagnostic message.
func exchange(ctx context.Context, conn RoundTripper, target string, op Request, controls []ldap.Control, acceptable ...uint16) (*OperationResult, error) {
	fields := map[string]any{"dn": target}

	if err := validateTargetDN(op.Name(), target); err != nil {
		return nil, err
	}

	var result *OperationResult
	err := LogOperation(ctx, "ldap", op.Name(), fields, func() error {
		resp, err := conn.RoundTrip(ctx, op, controls)
		if err != nil {
			return err
		}

		result = &OperationResult{
			MessageID:         resp.MessageID,
			ResultCode:        resp.Result.Code,
			DiagnosticMessage: resp.Result.DiagnosticMessage,
			MatchedDN:         resp.Result.MatchedDN,
			Referrals:         resp.Result.Referrals,
			Controls:          resp.Controls,
		}
		for _, code := range acceptable {
			if code == resp.Result.Code {
				result.Acceptable = true
			}
		}

		fields["message_id"] = resp.MessageID
		fields["result_code"] = resp.Result.Code
		if result.Acceptable {
			return nil
		}

		if result.DiagnosticMessage == "" {
			result.DiagnosticMessage = ResultCodeName(result.ResultCode)
		}
		return NewLDAPError(op.Name(), target, &Result{
			Code:              result.ResultCode,
			MatchedDN:         result.MatchedDN,
			DiagnosticMessage: result.DiagnosticMessage,
			Referrals:         result.Referrals,
		})
	})

	return result, err
}

// validateTargetDN rejects a target that is not a valid DN before it is sent.
func validateTargetDN(operation, dn string) error {
	if _, err := ldap.ParseDN(dn); err != nil {
		return &LDAPError{
			Operation: operation,
			Category:  ErrorCategoryValidation,
			LDAPCode:  ldap.LDAPResultInvalidDNSyntax,
			ServerMsg: fmt.Sprintf("invalid DN syntax: %v", err),
			DN:        dn,
		}
	}
	return nil
}

// referralLine describes a referral returned for target.
func referralLine(target string, result *OperationResult) string {
	if len(result.Referrals) == 0 {
		return fmt.Sprintf("Referral received for %s", target)
	}
	return fmt.Sprintf("Referral received for %s: %s", target, strings.Join(result.Referrals, " "))
}

// withControls returns base followed by extra in a new slice.
func withControls(base []ldap.Control, extra ...ldap.Control) []ldap.Control {
	controls := make([]ldap.Control, 0, len(base)+len(extra))
	controls = append(controls, base...)
	return append(controls, extra...)
}
