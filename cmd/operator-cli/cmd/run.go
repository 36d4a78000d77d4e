// file: cmd/operator-cli/cmd/run.go

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fx147/operator-base/internal/operator-cli/util"
	"github.com/fx147/operator-base/pkg/operator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register a custom resource and keep its instances' status up to date",
		Long: `Registers the custom resource definition given by --crd (an existing
definition is not an error), watches its first served version and patches
status.phase and status.observedGeneration of every added or modified instance.`,
		Example: `  # Run against the current kubeconfig context
  operator-cli run --crd config/widgets.yaml --phase Ready`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			crdFile := viper.GetString("crd")
			if crdFile == "" {
				return fmt.Errorf("--crd must be specified")
			}
			phase := viper.GetString("phase")
			printer := util.NewEventPrinter(cmd.OutOrStdout())

			setup := operator.SetupFunc(func(ctx context.Context, o *operator.Operator) error {
				desc, err := o.RegisterCRDFromFile(ctx, crdFile)
				if err != nil {
					return err
				}
				id, err := o.WatchDescriptor(ctx, desc, util.NewPhaseReporter(o, phase, printer))
				if err != nil {
					return err
				}
				klog.Infof("Reporting phase %q for %s", phase, id)
				return nil
			})

			op, cleanup, err := util.NewOperatorFromFlags(setup)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return op.Run(ctx)
		},
	}

	cmd.Flags().String("crd", "", "Path to the custom resource definition (YAML or JSON)")
	cmd.Flags().String("phase", "Ready", "Value written to status.phase")
	viper.BindPFlag("crd", cmd.Flags().Lookup("crd"))
	viper.BindPFlag("phase", cmd.Flags().Lookup("phase"))
	return cmd
}
