// file: cmd/operator-cli/cmd/root.go

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fx147/operator-base/pkg/watch"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var (
	// cfgFile 用于存储配置文件的路径
	cfgFile string

	// rootCmd 代表没有调用子命令时的基础命令
	rootCmd = &cobra.Command{
		Use:   "operator-cli",
		Short: "A minimal operator for custom resources",
		Long: `operator-cli registers a custom resource definition, watches its
instances and reports their observed state through the status subresource.

All watched resource types share one ordered event queue, so callbacks
never run concurrently.`,
		// 如果用户只输入 operator-cli 而没有子命令，就打印帮助信息
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

// Execute 将所有子命令添加到根命令中，并设置标志。
// 这是 main.go 将调用的主函数。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		klog.Flush()
		os.Exit(1)
	}
}

func init() {
	// 在所有命令执行前运行的初始化函数
	cobra.OnInitialize(initConfig)

	// --- 定义全局持久标志 ---
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.operator-cli.yaml)")

	// 集群连接相关的标志
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to the kubeconfig file (in-cluster config or default loading rules if empty)")
	rootCmd.PersistentFlags().String("context", "", "The kubeconfig context to use")

	// watch 相关的标志
	rootCmd.PersistentFlags().Duration("restart-delay", watch.DefaultRestartDelay, "Fixed delay before a terminated watch is reopened")
	rootCmd.PersistentFlags().String("checkpoint-file", "", "bbolt file used to resume watches across restarts (in-memory if empty)")

	// --- 将标志与 Viper 绑定 ---
	// 这使得我们可以通过配置文件或环境变量来设置这些值
	viper.BindPFlag("kubeconfig", rootCmd.PersistentFlags().Lookup("kubeconfig"))
	viper.BindPFlag("context", rootCmd.PersistentFlags().Lookup("context"))
	viper.BindPFlag("restart-delay", rootCmd.PersistentFlags().Lookup("restart-delay"))
	viper.BindPFlag("checkpoint-file", rootCmd.PersistentFlags().Lookup("checkpoint-file"))

	// --- 添加子命令 ---
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newRegisterCmd())
}

// initConfig 读取配置文件和环境变量（如果设置了的话）。
func initConfig() {
	if cfgFile != "" {
		// 使用 --config 标志指定的配置文件
		viper.SetConfigFile(cfgFile)
	} else {
		// 查找家目录
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// 1. 先在当前工作目录查找
		viper.AddConfigPath(".")
		// 2. 再在家目录查找
		viper.AddConfigPath(home)

		viper.SetConfigName(".operator-cli")
		viper.SetConfigType("yaml")
	}

	// 设置环境变量前缀，例如 OPERATORCLI_KUBECONFIG
	viper.SetEnvPrefix("OPERATORCLI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // 读取匹配的环境变量

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			klog.Warningf("Error reading config file: %v", err)
		}
	}
}

// GetRootCmd 导出 rootCmd 以便 main.go 可以添加 klog 标志
func GetRootCmd() *cobra.Command {
	return rootCmd
}
