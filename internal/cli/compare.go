package cli

import (
	"github.com/spf13/cobra"

	"github.com/isometry/ldapops/internal/ldap"
)

func (a *app) newCompareCmd() *cobra.Command {
	var (
		assertionFilter      string
		useCompareResultCode bool
	)

	cmd := &cobra.Command{
		Use:   "compare attribute:value [DN ...]",
		Short: "Compare an attribute value in one or more entries",
		Long: `Compare an attribute value assertion against each entry.

The assertion is attribute:value, attribute::base64value or
attribute:<filePath. objectGUID and objectSid values may be given in their
string forms.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assertion, err := ldap.ParseAttributeValue(args[0])
			if err != nil {
				return engineError(err)
			}

			batch, err := a.batchOptions()
			if err != nil {
				return err
			}
			batch.UseCompareResultCode = useCompareResultCode

			executor, err := ldap.NewCompareExecutor(ldap.CompareParams{
				Assertion:       assertion,
				AssertionFilter: assertionFilter,
			}, batch)
			if err != nil {
				return engineError(err)
			}

			return a.runBatch(cmd, executor, batch, args[1:])
		},
	}

	cmd.Flags().StringVar(&assertionFilter, "assertionFilter", "", "Use the LDAP assertion control with the provided filter")
	cmd.Flags().BoolVarP(&useCompareResultCode, "useCompareResultCode", "m", false, "Use the LDAP compare result as the exit code")

	return cmd
}
