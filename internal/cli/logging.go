package cli

import (
	"context"
	"os"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

// logLevelEnv sets the log level of ldapops; LDAPOPS_LOG_LDAP overrides it
// for the engine subsystem.
const logLevelEnv = "LDAPOPS_LOG"

// setupLogging installs a JSON root logger on standard error when --debug is
// given or a log level is set in the environment. Without a root logger every
// tflog call is a no-op.
func setupLogging(ctx context.Context, debug bool) context.Context {
	if debug && os.Getenv(logLevelEnv) == "" {
		_ = os.Setenv(logLevelEnv, "DEBUG")
	}
	if os.Getenv(logLevelEnv) == "" {
		return ctx
	}

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("ldapops"),
		tfsdklog.WithLevelFromEnv(logLevelEnv),
		tfsdklog.WithStderrFromInit(),
		tfsdklog.WithoutLocation(),
	)
	ctx = tflog.NewSubsystem(ctx, "ldap", tflog.WithLevelFromEnv(logLevelEnv, "LDAP"))

	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, "bind_password", "password")
	ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, "ldap", "bind_password", "password")

	return ctx
}
