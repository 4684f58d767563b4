package cli

import (
	"github.com/spf13/cobra"

	"github.com/isometry/ldapops/internal/ldap"
)

func (a *app) newDeleteCmd() *cobra.Command {
	var deleteSubtree bool

	cmd := &cobra.Command{
		Use:   "delete [DN ...]",
		Short: "Delete one or more entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := a.batchOptions()
			if err != nil {
				return err
			}

			executor := ldap.NewDeleteExecutor(ldap.DeleteParams{Subtree: deleteSubtree}, batch)
			return a.runBatch(cmd, executor, batch, args)
		},
	}

	cmd.Flags().BoolVarP(&deleteSubtree, "deleteSubtree", "x", false, "Delete the specified entry and all entries below it")

	return cmd
}
