package ldap

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// DeleteParams are the delete-specific parameters of a batch.
type DeleteParams struct {
	// Subtree attaches the subtree delete control.
	Subtree bool
}

// DeleteExecutor deletes each target entry.
type DeleteExecutor struct {
	controls []ldap.Control
	dryRun   bool
}

// NewDeleteExecutor builds the executor.
func NewDeleteExecutor(params DeleteParams, batch *BatchOptions) *DeleteExecutor {
	controls := withControls(batch.Controls)
	if params.Subtree {
		controls = append(controls, ldap.NewControlSubtreeDelete())
	}
	return &DeleteExecutor{
		controls: controls,
		dryRun:   batch.DryRun,
	}
}

func (e *DeleteExecutor) Name() string { return "delete" }

func (e *DeleteExecutor) Describe(target string) string {
	return fmt.Sprintf("Processing DELETE request for %s", target)
}

func (e *DeleteExecutor) Execute(ctx context.Context, conn RoundTripper, target string) (*OperationResult, error) {
	if e.dryRun {
		return dryRunResult(), nil
	}

	return exchange(ctx, conn, target, &DeleteRequest{DN: target}, e.controls,
		ldap.LDAPResultSuccess, ldap.LDAPResultReferral)
}

func (e *DeleteExecutor) Report(target string, result *OperationResult) string {
	if result.IsReferral() {
		return referralLine(target, result)
	}
	return fmt.Sprintf("DELETE operation successful for DN %s", target)
}
