package ldap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// BatchOptions control a batch run. They must not be modified once the run starts.
type BatchOptions struct {
	ContinueOnError bool
	// DryRun announces each operation without sending it.
	DryRun  bool
	Verbose bool
	// Controls are attached to every operation request.
	Controls []ldap.Control
	// UseCompareResultCode makes a batch without failures exit with the
	// compareTrue or compareFalse code of its last compare.
	UseCompareResultCode bool
}

// BatchSummary is the aggregate outcome of a batch run.
type BatchSummary struct {
	RunID     string
	Attempted int
	Succeeded int
	Failed    int
	// Aborted is set when the run stopped before the source was exhausted.
	Aborted bool
	// LastFailureCode is the result code of the last fatal failure.
	LastFailureCode uint16
	// LastResultCode is the result code of the last acceptable result.
	LastResultCode uint16
	// Err is the error that aborted the run, if any.
	Err error

	useCompareResultCode bool
}

// ExitCode returns the process exit status of the run: 0 when nothing
// failed, otherwise the result code of the last fatal failure.
func (s *BatchSummary) ExitCode() int {
	if s.Failed > 0 || s.Err != nil {
		return int(s.LastFailureCode)
	}
	if s.useCompareResultCode && (s.LastResultCode == ldap.LDAPResultCompareTrue || s.LastResultCode == ldap.LDAPResultCompareFalse) {
		return int(s.LastResultCode)
	}
	return 0
}

// BatchRunner applies an Executor to each target in order, one exchange at a time.
type BatchRunner struct {
	executor Executor
	opts     *BatchOptions
	out      io.Writer
	errOut   io.Writer
}

// NewBatchRunner creates a runner writing informational lines to out and
// diagnostics to errOut.
func NewBatchRunner(executor Executor, opts *BatchOptions, out, errOut io.Writer) *BatchRunner {
	if opts == nil {
		opts = &BatchOptions{}
	}
	return &BatchRunner{
		executor: executor,
		opts:     opts,
		out:      out,
		errOut:   errOut,
	}
}

// Run processes every target from targets. A server result outside the
// acceptable set or a decode failure stops the run unless ContinueOnError is
// set. Loss of the connection always stops the run.
func (r *BatchRunner) Run(ctx context.Context, conn RoundTripper, targets TargetSource) *BatchSummary {
	summary := &BatchSummary{
		RunID:                uuid.NewString(),
		useCompareResultCode: r.opts.UseCompareResultCode,
	}

	ctx = tflog.SubsystemSetField(ctx, "ldap", "batch_run_id", summary.RunID)
	tflog.SubsystemDebug(ctx, "ldap", "Starting batch", map[string]any{
		"operation":         r.executor.Name(),
		"continue_on_error": r.opts.ContinueOnError,
		"dry_run":           r.opts.DryRun,
	})

	for {
		target, ok, err := targets.Next()
		if err != nil {
			r.abort(ctx, summary, fmt.Errorf("failed to read targets: %w", err))
			break
		}
		if !ok {
			break
		}

		if !r.process(ctx, conn, target, summary) {
			break
		}
	}

	tflog.SubsystemDebug(ctx, "ldap", "Batch finished", map[string]any{
		"operation": r.executor.Name(),
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"aborted":   summary.Aborted,
		"exit_code": summary.ExitCode(),
	})
	return summary
}

// process runs a single target and reports whether the run should continue.
func (r *BatchRunner) process(ctx context.Context, conn RoundTripper, target string, summary *BatchSummary) bool {
	r.println(r.out, r.executor.Describe(target))

	summary.Attempted++
	result, err := r.executor.Execute(ctx, conn, target)

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		r.abort(ctx, summary, err)
		return false
	}

	if err != nil {
		summary.Failed++
		summary.LastFailureCode = ResultCode(err)
		r.println(r.errOut, "Error: "+err.Error())
		if result != nil && result.IsReferral() {
			r.println(r.out, referralLine(target, result))
		}
		if !r.opts.ContinueOnError {
			summary.Aborted = true
			return false
		}
		tflog.SubsystemWarn(ctx, "ldap", "Continuing after failure", map[string]any{
			"dn":          target,
			"result_code": summary.LastFailureCode,
		})
		return true
	}

	summary.Succeeded++
	if result.DryRun {
		return true
	}

	summary.LastResultCode = result.ResultCode
	r.println(r.out, r.executor.Report(target, result))
	if r.opts.Verbose {
		for _, control := range result.Controls {
			r.println(r.out, fmt.Sprintf("Response control: %s (critical=%t)", control.ControlOID(), control.IsCritical()))
		}
	}
	return true
}

func (r *BatchRunner) abort(ctx context.Context, summary *BatchSummary, err error) {
	summary.Aborted = true
	summary.Err = err
	summary.LastFailureCode = ResultCode(err)
	r.println(r.errOut, "Error: "+err.Error())
	LogLDAPError(ctx, "ldap", r.executor.Name(), err, map[string]any{"aborted": true})
}

func (r *BatchRunner) println(w io.Writer, line string) {
	if w == nil || line == "" {
		return
	}
	_, _ = fmt.Fprintln(w, line)
}
