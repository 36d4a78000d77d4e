// file: cmd/operator-cli/cmd/register.go

package cmd

import (
	"context"
	"fmt"

	"github.com/fx147/operator-base/internal/operator-cli/util"
	"github.com/fx147/operator-base/pkg/operator"
	"github.com/spf13/cobra"
)

func newRegisterCmd() *cobra.Command {
	var crdFile string

	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Register a custom resource definition and print its descriptor",
		Example: `  operator-cli register --crd config/widgets.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if crdFile == "" {
				return fmt.Errorf("--crd must be specified")
			}

			// register 不打开 watch，Setup 什么都不做
			op, cleanup, err := util.NewOperatorFromFlags(operator.SetupFunc(func(context.Context, *operator.Operator) error {
				return nil
			}))
			if err != nil {
				return err
			}
			defer cleanup()

			desc, err := op.RegisterCRDFromFile(cmd.Context(), crdFile)
			if err != nil {
				return err
			}
			util.PrintDescriptor(cmd.OutOrStdout(), desc)
			return nil
		},
	}

	cmd.Flags().StringVar(&crdFile, "crd", "", "Path to the custom resource definition (YAML or JSON)")
	return cmd
}
