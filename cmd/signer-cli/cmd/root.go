package cmd

import (
	"fmt"
	"os"

	"signer-core/pkg/config"
	"signer-core/pkg/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "signer-cli",
	Short: "硬件签名设备命令行工具",
	Long: `连接 Ledger 设备 (或内置模拟器)，读取 ETH/BTC/SOL 地址并完成消息与交易签名。
也可以生成助记词并加密保存为模拟器使用的种子文件。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认查找 ./config.yaml)")
}

// loadConfig 需要设备的子命令调用
func loadConfig() config.Config {
	config.InitFile(cfgFile)
	logger.Init(config.Global.App.Env)
	return config.Global
}
