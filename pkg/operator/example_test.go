package operator_test

import (
	"context"
	"fmt"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/dispatch"
	"github.com/fx147/operator-base/pkg/kubeconfig"
	"github.com/fx147/operator-base/pkg/operator"
	"github.com/fx147/operator-base/pkg/util"
)

// widgetOperator 演示一个具体的 operator：注册 Widget 类型，并把每个实例的 phase 设为 Ready
type widgetOperator struct {
	op *operator.Operator
}

func (w *widgetOperator) Setup(ctx context.Context, op *operator.Operator) error {
	w.op = op
	desc, err := op.RegisterCRDFromFile(ctx, "config/widgets.yaml")
	if err != nil {
		return err
	}
	_, err = op.WatchDescriptor(ctx, desc, dispatch.HandlerFunc(w.onEvent))
	return err
}

func (w *widgetOperator) onEvent(ctx context.Context, ev metav1.ResourceEvent) error {
	if ev.Type == metav1.Deleted {
		return nil
	}
	_, err := w.op.PatchStatus(ctx, ev.Meta, map[string]string{"phase": "Ready"})
	return err
}

// ExampleOperator 演示如何基于 kubeconfig 启动一个 operator
func ExampleOperator() {
	conn, err := kubeconfig.Load("", "")
	if err != nil {
		fmt.Printf("Failed to load kubeconfig: %v\n", err)
		return
	}

	op, err := operator.New(conn, &widgetOperator{}, operator.WithLogger(util.KlogLogger{}))
	if err != nil {
		fmt.Printf("Failed to create operator: %v\n", err)
		return
	}

	// Run 阻塞直到 ctx 结束
	if err := op.Run(context.Background()); err != nil {
		fmt.Printf("Operator stopped: %v\n", err)
	}
}
