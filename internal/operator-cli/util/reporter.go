package util

import (
	"context"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/dispatch"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// StatusPatcher 是 PhaseReporter 依赖的 status 更新能力，*operator.Operator 实现了它。
type StatusPatcher interface {
	PatchStatus(ctx context.Context, meta metav1.ResourceMeta, status interface{}) (metav1.ResourceMeta, error)
}

// PhaseReporter 是 run 命令使用的回调：
// 对每个新增或修改的资源，把 status.phase 和 status.observedGeneration 更新为当前值。
// status 已经是最新时不再发请求，避免 status 更新产生的 Modified 事件导致循环。
type PhaseReporter struct {
	patcher StatusPatcher
	phase   string
	printer *EventPrinter
}

var _ dispatch.Handler = &PhaseReporter{}

// NewPhaseReporter 创建一个 PhaseReporter。printer 可以为 nil。
func NewPhaseReporter(patcher StatusPatcher, phase string, printer *EventPrinter) *PhaseReporter {
	return &PhaseReporter{patcher: patcher, phase: phase, printer: printer}
}

func (r *PhaseReporter) OnEvent(ctx context.Context, ev metav1.ResourceEvent) error {
	if r.printer != nil {
		if err := r.printer.Print(ev); err != nil {
			return err
		}
	}
	if ev.Type != metav1.Added && ev.Type != metav1.Modified {
		return nil
	}

	var generation, observed int64
	if ev.Object != nil {
		generation = ev.Object.GetGeneration()
		observed, _, _ = unstructured.NestedInt64(ev.Object.Object, "status", "observedGeneration")
	}
	if phaseOf(ev.Object) == r.phase && observed == generation {
		return nil
	}

	_, err := r.patcher.PatchStatus(ctx, ev.Meta, map[string]interface{}{
		"phase":              r.phase,
		"observedGeneration": generation,
	})
	return err
}
