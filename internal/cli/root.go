// Package cli implements the ldapops command tree on top of the LDAP
// operation engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chzyer/readline"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/spf13/cobra"

	"github.com/isometry/ldapops/internal/ldap"
)

// exitCodeUsage is returned for command line and configuration errors.
const exitCodeUsage = 255

// exitError carries the process exit status of a failed command. A nil err
// means the diagnostics have already been written.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// engineError maps an error returned by the engine to its result code.
func engineError(err error) error {
	return &exitError{code: int(ldap.ResultCode(err)), err: err}
}

// globalOptions are the flags shared by every operation command.
type globalOptions struct {
	profile string

	host           string
	port           int
	url            string
	domain         string
	version        int
	connectTimeout time.Duration

	useSSL      bool
	useStartTLS bool
	trustAll    bool
	trustStore  string
	certFile    string
	keyFile     string

	bindDN                   string
	bindPassword             string
	bindPasswordFile         string
	saslOptions              []string
	reportAuthzID            bool
	usePasswordPolicyControl bool

	controls        []string
	continueOnError bool
	dryRun          bool
	verbose         bool
	filename        string

	debug bool
}

type serverDiscoverer interface {
	DiscoverServers(ctx context.Context, domain string) ([]*ldap.ServerInfo, error)
}

type app struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	prompter    prompter
	interactive bool
	discovery   serverDiscoverer

	opts globalOptions
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		prompter:  &readlinePrompter{stdout: stderr},
		discovery: ldap.NewSRVDiscovery(),
	}
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	a.interactive = readline.DefaultIsTerminal()
	return a.run(context.Background(), os.Args[1:])
}

func (a *app) run(ctx context.Context, args []string) int {
	cmd := a.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	return a.exitCode(cmd.ExecuteContext(ctx))
}

// processExitCode maps result codes that do not fit in a process exit
// status, such as e-syncRefreshRequired or noOperation, to LDAP other.
func processExitCode(code int) int {
	if code < 0 || code > exitCodeUsage {
		return goldap.LDAPResultOther
	}
	return code
}

func (a *app) exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			_, _ = fmt.Fprintln(a.stderr, "Error: "+exit.err.Error())
		}
		return processExitCode(exit.code)
	}

	_, _ = fmt.Fprintln(a.stderr, "Error: "+err.Error())
	return exitCodeUsage
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ldapops",
		Short: "Run compare and delete operations against an LDAP directory server",
		Long: `ldapops connects to an LDAP directory server over plain LDAP, StartTLS or
LDAPS, authenticates with a simple or SASL bind and runs compare or delete
operations against a list of entries.

Entry DNs are taken from the command line, from --filename or from standard
input, one per line. The exit status is the result code of the last failed
operation, or 0 when every operation succeeded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(setupLogging(cmd.Context(), a.opts.debug))
			return nil
		},
	}

	o := &a.opts
	flags := root.PersistentFlags()

	flags.StringVar(&o.profile, "profile", "", "Connection profile YAML file")

	flags.StringVarP(&o.host, "hostname", "h", "localhost", "Directory server hostname or IP address")
	flags.IntVarP(&o.port, "port", "p", 389, "Directory server port number")
	flags.StringVar(&o.url, "url", "", "Directory server LDAP URL (ldap:// or ldaps://)")
	flags.StringVar(&o.domain, "domain", "", "Locate the directory server with DNS SRV records for this domain")
	flags.IntVarP(&o.version, "ldapVersion", "V", 3, "LDAP protocol version number (2 or 3)")
	flags.DurationVar(&o.connectTimeout, "connectTimeout", 30*time.Second, "Maximum time to establish a connection")

	flags.BoolVarP(&o.useSSL, "useSSL", "Z", false, "Use SSL for secure communication with the server")
	flags.BoolVarP(&o.useStartTLS, "useStartTLS", "q", false, "Use StartTLS to secure communication with the server")
	flags.BoolVarP(&o.trustAll, "trustAll", "X", false, "Trust all server SSL certificates")
	flags.StringVarP(&o.trustStore, "trustStorePath", "P", "", "PEM file of CA certificates used to verify the server")
	flags.StringVarP(&o.certFile, "keyStorePath", "K", "", "PEM client certificate used for SASL EXTERNAL")
	flags.StringVar(&o.keyFile, "keyStoreKeyPath", "", "PEM private key of the client certificate")

	flags.StringVarP(&o.bindDN, "bindDN", "D", "", "DN to use to bind to the server")
	flags.StringVarP(&o.bindPassword, "bindPassword", "w", "", "Password to use to bind to the server, or - to prompt")
	flags.StringVarP(&o.bindPasswordFile, "bindPasswordFile", "j", "", "Bind password file")
	flags.StringArrayVarP(&o.saslOptions, "saslOption", "o", nil, "SASL bind options (name=value)")
	flags.BoolVarP(&o.reportAuthzID, "reportAuthzID", "E", false, "Use the authorization identity control")
	flags.BoolVar(&o.usePasswordPolicyControl, "usePasswordPolicyControl", false, "Use the password policy request control")

	flags.StringArrayVarP(&o.controls, "control", "J", nil, "Use a request control with the provided information")
	flags.BoolVarP(&o.continueOnError, "continueOnError", "c", false, "Continue processing even if there are errors")
	flags.BoolVarP(&o.dryRun, "dry-run", "n", false, "Show what would be done but do not perform any operation")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Use verbose mode")
	flags.StringVarP(&o.filename, "filename", "f", "", "File containing the DNs of the entries to process")

	flags.BoolVar(&o.debug, "debug", false, "Write debug logs to standard error")

	// -h is taken by --hostname
	root.PersistentFlags().BoolP("help", "H", false, "Display this usage information")

	root.AddCommand(a.newCompareCmd(), a.newDeleteCmd())

	return root
}
