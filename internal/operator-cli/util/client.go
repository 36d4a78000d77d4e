// file: internal/operator-cli/util/client.go

package util

import (
	"fmt"

	"github.com/fx147/operator-base/pkg/kubeconfig"
	"github.com/fx147/operator-base/pkg/operator"
	"github.com/fx147/operator-base/pkg/registry"
	pkgutil "github.com/fx147/operator-base/pkg/util"
	"github.com/spf13/viper"
)

// NewConnectionFromFlags 从 viper 中读取全局标志，并创建集群连接。
func NewConnectionFromFlags() (*kubeconfig.Context, error) {
	return kubeconfig.Load(viper.GetString("kubeconfig"), viper.GetString("context"))
}

// NewOperatorFromFlags 根据全局标志创建 Operator，日志输出到 klog。
// 返回的 cleanup 负责关闭 checkpoint 文件，调用方必须在退出前调用。
func NewOperatorFromFlags(setup operator.Setup) (*operator.Operator, func(), error) {
	conn, err := NewConnectionFromFlags()
	if err != nil {
		return nil, nil, err
	}

	opts := []operator.Option{
		operator.WithLogger(pkgutil.KlogLogger{}),
		operator.WithRestartDelay(viper.GetDuration("restart-delay")),
	}
	cleanup := func() {}

	if path := viper.GetString("checkpoint-file"); path != "" {
		store, closeFn, err := registry.OpenBoltCheckpointStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open checkpoint file %s: %w", path, err)
		}
		opts = append(opts, operator.WithCheckpointStore(store))
		cleanup = func() { closeFn() }
	}

	op, err := operator.New(conn, setup, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return op, cleanup, nil
}
