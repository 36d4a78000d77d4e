// file: internal/operator-cli/util/printer.go

package util

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/crd"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// EventPrinter 把事件逐行打印成表格。
// 每一行写完立即 Flush，所以列宽只在同一批输出内对齐。
type EventPrinter struct {
	w           *tabwriter.Writer
	wroteHeader bool
}

func NewEventPrinter(out io.Writer) *EventPrinter {
	return &EventPrinter{w: tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)}
}

// Print 打印一个事件。第一次调用时先打印表头。
func (p *EventPrinter) Print(ev metav1.ResourceEvent) error {
	if !p.wroteHeader {
		fmt.Fprintln(p.w, "EVENT\tNAMESPACE\tNAME\tKIND\tRESOURCE_VERSION\tPHASE")
		p.wroteHeader = true
	}

	namespace := ev.Meta.Namespace
	if namespace == "" {
		namespace = "<none>"
	}
	fmt.Fprintf(p.w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		ev.Type,
		namespace,
		ev.Meta.Name,
		ev.Meta.Kind,
		ev.Meta.ResourceVersion,
		phaseOf(ev.Object),
	)
	return p.w.Flush()
}

// phaseOf 读取 status.phase，没有时返回 "<unknown>"
func phaseOf(obj *unstructured.Unstructured) string {
	if obj == nil {
		return "<unknown>"
	}
	phase, found, err := unstructured.NestedString(obj.Object, "status", "phase")
	if err != nil || !found || phase == "" {
		return "<unknown>"
	}
	return phase
}

// PrintDescriptor 打印已注册资源类型的信息。
func PrintDescriptor(out io.Writer, desc crd.Descriptor) {
	scope := "Cluster"
	if desc.Namespaced {
		scope = "Namespaced"
	}
	group := desc.Group
	if group == "" {
		group = "<core>"
	}
	fmt.Fprintf(out, "Kind:         %s\n", desc.Kind)
	fmt.Fprintf(out, "Group:        %s\n", group)
	fmt.Fprintf(out, "Plural:       %s\n", desc.Plural)
	fmt.Fprintf(out, "Versions:     %s\n", strings.Join(desc.Versions, ", "))
	fmt.Fprintf(out, "Scope:        %s\n", scope)
}
