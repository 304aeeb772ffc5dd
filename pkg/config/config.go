package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Device   DeviceConfig   `mapstructure:"device"`
	Emulator EmulatorConfig `mapstructure:"emulator"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Bitcoin  BitcoinConfig  `mapstructure:"bitcoin"`
	Solana   SolanaConfig   `mapstructure:"solana"`
}

type AppConfig struct {
	Env       string  `mapstructure:"env"`
	HttpPort  string  `mapstructure:"http_port"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限流
	RateBurst int     `mapstructure:"rate_burst"`
}

type DeviceConfig struct {
	Transport         string        `mapstructure:"transport"` // "emulator" or "hid"
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RefresherInterval time.Duration `mapstructure:"refresher_interval"` // 0 表示不刷新会话
}

type EmulatorConfig struct {
	Mnemonic     string `mapstructure:"mnemonic"`
	KeystorePath string `mapstructure:"keystore_path"` // 加密的种子文件
	Password     string `mapstructure:"password"`      // 通常通过环境变量 EMULATOR_PASSWORD 传入
	AutoApprove  bool   `mapstructure:"auto_approve"`
	Model        string `mapstructure:"model"`
}

type EthereumConfig struct {
	RpcUrl  string `mapstructure:"rpc_url"`
	ChainID int64  `mapstructure:"chain_id"`
	Amount  string `mapstructure:"amount"` // ETH，十进制字符串
}

type BitcoinConfig struct {
	RpcUrl     string `mapstructure:"rpc_url"` // bitcoind JSON-RPC，留空则使用固定手续费
	Network    string `mapstructure:"network"`
	FeeSats    int64  `mapstructure:"fee_sats"`
	ConfTarget int    `mapstructure:"conf_target"`
}

type SolanaConfig struct {
	RpcUrl string `mapstructure:"rpc_url"`
	Amount string `mapstructure:"amount"` // SOL，十进制字符串
	Memo   string `mapstructure:"memo"`
}

var Global Config

func Init() {
	InitFile("")
}

// InitFile 指定配置文件路径，为空时按默认规则查找 config.yaml
func InitFile(path string) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config") // name of config file (without extension)
		viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
		viper.AddConfigPath(".")      // optionally look for config in the working directory
		viper.AddConfigPath("./config")
	}

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s, Transport: %s", Global.App.Env, Global.Device.Transport)
}

// Default 只包含默认值的配置，测试和 CLI 子命令使用
func Default() Config {
	v := viper.New()
	applyDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

func setDefaults() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8080")
	v.SetDefault("app.rate_limit", 5)
	v.SetDefault("app.rate_burst", 10)

	v.SetDefault("device.transport", "emulator")
	v.SetDefault("device.discovery_interval", "500ms")
	v.SetDefault("device.connect_timeout", "30s")
	v.SetDefault("device.refresher_interval", "0s")

	v.SetDefault("emulator.mnemonic", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	v.SetDefault("emulator.keystore_path", "")
	v.SetDefault("emulator.password", "")
	v.SetDefault("emulator.auto_approve", true)
	v.SetDefault("emulator.model", "nanoX")

	v.SetDefault("ethereum.rpc_url", "https://ethereum-sepolia-rpc.publicnode.com")
	v.SetDefault("ethereum.chain_id", 11155111)
	v.SetDefault("ethereum.amount", "0.0001")

	v.SetDefault("bitcoin.rpc_url", "")
	v.SetDefault("bitcoin.network", "mainnet")
	v.SetDefault("bitcoin.fee_sats", 500)
	v.SetDefault("bitcoin.conf_target", 6)

	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.amount", "0.0001")
	v.SetDefault("solana.memo", "hello world")
}
