package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(ctx, subsystem, operation, err, fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()
	fields["ldap_result_code"] = ResultCode(err)
	fields["error_category"] = string(GetErrorCategory(err))

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.ServerMsg != "" {
			fields["ldap_diagnostic_message"] = ldapErr.ServerMsg
		}
	}

	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.MatchedDN != "" {
		fields["ldap_matched_dn"] = authErr.MatchedDN
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", SanitizeFields(fields))
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	fields = SanitizeFields(fields)
	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, "ldap", "Connection event", fields)
	case "connection_failed", "authentication_failed", "connection_lost":
		tflog.SubsystemError(ctx, "ldap", "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, "ldap", "Connection event", fields)
	}
}

// sensitiveFieldKeys are always redacted, whatever their value.
var sensitiveFieldKeys = map[string]bool{
	"password":         true,
	"passwd":           true,
	"bind_password":    true,
	"secret":           true,
	"token":            true,
	"key":              true,
	"private_key":      true,
	"credential":       true,
	"credentials":      true,
	"sasl_credentials": true,
}

// sensitiveValuePatterns mark string values that embed a secret.
var sensitiveValuePatterns = []string{
	"password=",
	"passwd=",
	"secret=",
	"token=",
	"key=",
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))
	for k, v := range fields {
		if str, ok := v.(string); sensitiveFieldKeys[k] || (ok && containsSensitivePattern(str)) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range sensitiveValuePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
