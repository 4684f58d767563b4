package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// bindControls returns the request controls attached to every bind request.
func (a *Authenticator) bindControls() []ldap.Control {
	var controls []ldap.Control
	if a.opts.ReportAuthzID {
		controls = append(controls, NewRequestControl(ControlTypeAuthzIDRequest, false))
	}
	if a.opts.UsePasswordPolicyControl {
		controls = append(controls, ldap.NewControlBeheraPasswordPolicy())
	}
	return controls
}

// BindNotices interprets bind response controls as human-readable notices.
// Controls are interpreted independently of one another.
func BindNotices(controls []ResponseControl) []string {
	var notices []string
	for _, control := range controls {
		switch c := control.(type) {
		case *AuthzIDResponse:
			notices = append(notices, "Bound with authorization ID "+c.Identity)
		case *PasswordExpired:
			notices = append(notices, "Your password has expired")
		case *PasswordExpiring:
			notices = append(notices, "Your password will expire in "+FormatDuration(c.SecondsUntilExpiration))
		case *PasswordPolicyResponse:
			notices = append(notices, passwordPolicyNotices(c)...)
		case *OpaqueControl:
		}
	}
	return notices
}

func passwordPolicyNotices(c *PasswordPolicyResponse) []string {
	var notices []string

	if c.HasError() {
		switch c.Error {
		case 0:
			notices = append(notices, "Your password has expired")
		case 1:
			notices = append(notices, "Your account has been locked")
		case 2:
			notices = append(notices, "You must change your password before any other operations will be allowed")
		default:
			name := c.ErrorString
			if name == "" {
				name = ldap.BeheraPasswordPolicyErrorMap[c.Error]
			}
			if name == "" {
				name = fmt.Sprintf("error %d", c.Error)
			}
			notices = append(notices, "Password policy error: "+name)
		}
	}

	switch c.Warning {
	case PasswordPolicyWarningTimeBeforeExpiration:
		notices = append(notices, "Your password will expire in "+FormatDuration(c.WarningValue))
	case PasswordPolicyWarningGraceLoginsRemaining:
		notices = append(notices, fmt.Sprintf("You have %d grace logins remaining", c.WarningValue))
	case PasswordPolicyWarningNone:
	}

	return notices
}

// FormatDuration renders a number of seconds the way bind notices show it,
// e.g. "2 days, 3 hours, 0 minutes, 5 seconds".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	days := seconds / 86400
	hours := seconds % 86400 / 3600
	minutes := seconds % 3600 / 60
	secs := seconds % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d days, %d hours, %d minutes, %d seconds", days, hours, minutes, secs)
	case hours > 0:
		return fmt.Sprintf("%d hours, %d minutes, %d seconds", hours, minutes, secs)
	case minutes > 0:
		return fmt.Sprintf("%d minutes, %d seconds", minutes, secs)
	default:
		return fmt.Sprintf("%d seconds", secs)
	}
}
