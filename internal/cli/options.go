package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/spf13/cobra"

	"github.com/isometry/ldapops/internal/ldap"
)

// connectionOptions builds the engine options from the flags, the profile
// and any prompts. Flags given on the command line override the profile.
func (a *app) connectionOptions(cmd *cobra.Command) (*ldap.ConnectionOptions, error) {
	o := &a.opts

	if o.profile != "" {
		profile, err := loadProfile(o.profile)
		if err != nil {
			return nil, &exitError{code: exitCodeUsage, err: err}
		}
		if err := profile.applyTo(o, cmd.Flags().Changed); err != nil {
			return nil, &exitError{code: exitCodeUsage, err: err}
		}
	}

	if o.useSSL && o.useStartTLS {
		return nil, &exitError{code: exitCodeUsage, err: errors.New("--useSSL and --useStartTLS are mutually exclusive")}
	}
	if o.trustAll && o.trustStore != "" {
		return nil, &exitError{code: exitCodeUsage, err: errors.New("--trustAll and --trustStorePath are mutually exclusive")}
	}
	if o.bindPassword != "" && o.bindPasswordFile != "" {
		return nil, &exitError{code: exitCodeUsage, err: errors.New("--bindPassword and --bindPasswordFile are mutually exclusive")}
	}

	opts := ldap.DefaultConnectionOptions()
	opts.Host = o.host
	opts.Port = o.port
	opts.Version = o.version
	opts.ConnectTimeout = o.connectTimeout
	opts.ClientCertFile = o.certFile
	opts.ClientKeyFile = o.keyFile
	opts.BindDN = o.bindDN
	opts.ReportAuthzID = o.reportAuthzID
	opts.UsePasswordPolicyControl = o.usePasswordPolicyControl

	switch {
	case o.useSSL:
		opts.TLSMode = ldap.TLSModeDirect
		if !cmd.Flags().Changed("port") && o.port == 389 {
			opts.Port = 636
		}
	case o.useStartTLS:
		opts.TLSMode = ldap.TLSModeStartTLS
	}

	if o.url != "" {
		server, err := ldap.ParseLDAPURL(o.url)
		if err != nil {
			return nil, &exitError{code: exitCodeUsage, err: err}
		}
		server.Apply(opts)
	}

	switch {
	case o.trustAll:
		opts.Trust = ldap.TrustAll{}
	case o.trustStore != "":
		opts.Trust = ldap.TrustCAFile{Path: o.trustStore}
	case a.interactive:
		opts.Trust = &promptTrust{prompter: a.prompter, out: a.stderr}
	}

	mechanism, properties, err := ldap.ParseSASLOptions(o.saslOptions)
	if err != nil {
		return nil, engineError(err)
	}
	opts.SASLMechanism = mechanism
	opts.SASLProperties = properties

	password, err := a.bindPassword(opts)
	if err != nil {
		return nil, &exitError{code: exitCodeUsage, err: err}
	}
	opts.BindPassword = password

	return opts, nil
}

// bindPassword resolves the password from the flag, the password file or an
// interactive prompt when the flag is "-".
func (a *app) bindPassword(opts *ldap.ConnectionOptions) (string, error) {
	o := &a.opts

	if o.bindPasswordFile != "" {
		return readPasswordFile(o.bindPasswordFile)
	}

	if o.bindPassword != "-" {
		return o.bindPassword, nil
	}

	identity := opts.BindDN
	if identity == "" {
		identity = opts.SASLProperties[ldap.SASLPropertyAuthID]
	}
	return a.prompter.ReadPassword(fmt.Sprintf("Password for user '%s': ", identity))
}

func readPasswordFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("unable to read the bind password file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("unable to read the bind password file: %w", err)
		}
		return "", fmt.Errorf("the bind password file %s is empty", path)
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}

// requestControls parses the --control flags.
func (a *app) requestControls() ([]goldap.Control, error) {
	controls := make([]goldap.Control, 0, len(a.opts.controls))
	for _, arg := range a.opts.controls {
		control, err := ldap.ParseControl(arg)
		if err != nil {
			return nil, engineError(err)
		}
		controls = append(controls, control)
	}
	return controls, nil
}

// batchOptions builds the options shared by every operation command.
func (a *app) batchOptions() (*ldap.BatchOptions, error) {
	controls, err := a.requestControls()
	if err != nil {
		return nil, err
	}

	return &ldap.BatchOptions{
		ContinueOnError: a.opts.continueOnError,
		DryRun:          a.opts.dryRun,
		Verbose:         a.opts.verbose,
		Controls:        controls,
	}, nil
}

// connect opens an authenticated connection. With --domain every discovered
// server is tried in preference order until one accepts the connection.
func (a *app) connect(ctx context.Context, cmd *cobra.Command) (*ldap.Connection, error) {
	opts, err := a.connectionOptions(cmd)
	if err != nil {
		return nil, err
	}

	if a.opts.domain == "" {
		conn, err := ldap.Open(ctx, opts)
		if err != nil {
			a.printBindFailureNotices(err)
			return nil, engineError(err)
		}
		a.printBindNotices(conn)
		return conn, nil
	}

	servers, err := a.discovery.DiscoverServers(ctx, a.opts.domain)
	if err != nil {
		return nil, &exitError{code: exitCodeUsage, err: err}
	}

	var lastErr error
	for _, server := range servers {
		attempt := *opts
		server.Apply(&attempt)

		conn, err := ldap.Open(ctx, &attempt)
		if err == nil {
			a.printBindNotices(conn)
			return conn, nil
		}
		lastErr = err

		var connectErr *ldap.ConnectError
		if !errors.As(err, &connectErr) {
			break
		}
		tflog.SubsystemDebug(ctx, "ldap", "Server unavailable, trying next", map[string]any{
			"server": server.URL(),
			"error":  err.Error(),
		})
	}

	a.printBindFailureNotices(lastErr)
	return nil, engineError(lastErr)
}

func (a *app) printBindNotices(conn *ldap.Connection) {
	result := conn.BindResult()
	if result == nil {
		return
	}
	for _, notice := range result.Notices {
		_, _ = fmt.Fprintln(a.stdout, "# "+notice)
	}
}

func (a *app) printBindFailureNotices(err error) {
	var authErr *ldap.AuthError
	if !errors.As(err, &authErr) {
		return
	}
	for _, notice := range authErr.Notices {
		_, _ = fmt.Fprintln(a.stderr, "# "+notice)
	}
}

// targets returns the DNs to process: the file given with --filename, the
// DNs given as arguments, or standard input.
func (a *app) targets(args []string) (ldap.TargetSource, func(), error) {
	if a.opts.filename != "" {
		f, err := os.Open(a.opts.filename)
		if err != nil {
			return nil, nil, &exitError{code: exitCodeUsage, err: fmt.Errorf("unable to open the DN file: %w", err)}
		}
		return ldap.NewLineTargets(f), func() { _ = f.Close() }, nil
	}

	if len(args) > 0 {
		return ldap.NewSliceTargets(args...), func() {}, nil
	}

	return ldap.NewLineTargets(a.stdin), func() {}, nil
}

// runBatch connects and applies executor to the targets.
func (a *app) runBatch(cmd *cobra.Command, executor ldap.Executor, batch *ldap.BatchOptions, args []string) error {
	targets, closeTargets, err := a.targets(args)
	if err != nil {
		return err
	}
	defer closeTargets()

	ctx := cmd.Context()
	conn, err := a.connect(ctx, cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	summary := ldap.NewBatchRunner(executor, batch, a.stdout, a.stderr).Run(ctx, conn, targets)
	if code := summary.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
