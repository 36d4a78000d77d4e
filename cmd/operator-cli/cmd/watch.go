// file: cmd/operator-cli/cmd/watch.go

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fx147/operator-base/internal/operator-cli/util"
	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/dispatch"
	"github.com/fx147/operator-base/pkg/operator"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <group> <version> <plural>",
		Short: "Print change notifications of a resource type until interrupted",
		Long: `Watches a resource collection and prints every notification as a table row.
Use "core" as the group for resources of the core API group.`,
		Example: `  # Watch widgets of the example.com group
  operator-cli watch example.com v1 widgets

  # Watch config maps
  operator-cli watch core v1 configmaps`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, version, plural := args[0], args[1], args[2]
			if group == "core" {
				group = ""
			}

			printer := util.NewEventPrinter(cmd.OutOrStdout())
			handler := dispatch.HandlerFunc(func(_ context.Context, ev metav1.ResourceEvent) error {
				return printer.Print(ev)
			})
			setup := operator.SetupFunc(func(ctx context.Context, o *operator.Operator) error {
				_, err := o.Watch(ctx, group, version, plural, handler)
				return err
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
}
