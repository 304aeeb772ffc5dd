// Package bootstrap 按配置组装传输层、设备管理器和各链服务，server 与 cli 共用
package bootstrap

import (
	"context"
	"fmt"
	"time"

	btcchain "signer-core/internal/chain/bitcoin"
	ethchain "signer-core/internal/chain/ethereum"
	solchain "signer-core/internal/chain/solana"
	"signer-core/internal/dmk"
	"signer-core/internal/service"
	"signer-core/internal/transport/emulator"
	"signer-core/internal/transport/hid"
	"signer-core/pkg/cache"
	"signer-core/pkg/config"
	"signer-core/pkg/logger"

	"go.uber.org/zap"
)

// NewTransport 根据 device.transport 选择模拟器或 USB HID，opts 只作用于模拟器
func NewTransport(cfg config.Config, opts ...emulator.DeviceOption) (dmk.Transport, error) {
	switch cfg.Device.Transport {
	case "hid":
		return hid.NewTransport(), nil
	case "", "emulator":
		dev, err := NewEmulatorDevice(cfg.Emulator, opts...)
		if err != nil {
			return nil, err
		}
		tr := emulator.NewTransport()
		if _, err := tr.Plug(dev); err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Device.Transport)
	}
}

// NewEmulatorDevice 优先从加密种子文件加载，否则使用配置中的助记词。extra 在配置项之后应用
func NewEmulatorDevice(cfg config.EmulatorConfig, extra ...emulator.DeviceOption) (*emulator.Device, error) {
	approver := emulator.RejectAll
	if cfg.AutoApprove {
		approver = emulator.AutoApprove
	}
	opts := []emulator.DeviceOption{emulator.WithApprover(approver)}
	if cfg.Model != "" {
		opts = append(opts, emulator.WithModel(cfg.Model))
	}
	opts = append(opts, extra...)

	if cfg.KeystorePath != "" {
		dev, err := emulator.NewDeviceFromKeystore(cfg.KeystorePath, cfg.Password, opts...)
		if err != nil {
			return nil, fmt.Errorf("load keystore %s: %w", cfg.KeystorePath, err)
		}
		return dev, nil
	}
	return emulator.NewDeviceFromMnemonic(cfg.Mnemonic, "", opts...)
}

// NewManager 创建设备管理器
func NewManager(cfg config.Config, opts ...emulator.DeviceOption) (*dmk.Manager, error) {
	tr, err := NewTransport(cfg, opts...)
	if err != nil {
		return nil, err
	}
	mopts := []dmk.Option{dmk.WithTransport(tr), dmk.WithLogger(logger.Named("dmk"))}
	if cfg.Device.DiscoveryInterval > 0 {
		mopts = append(mopts, dmk.WithDiscoveryInterval(cfg.Device.DiscoveryInterval))
	}
	return dmk.NewManager(mopts...), nil
}

const (
	feeRateTTL   = time.Minute
	blockhashTTL = 15 * time.Second
)

// Services 三条链的服务
type Services struct {
	Connection *service.ConnectionService
	Ethereum   *service.EthereumService
	Bitcoin    *service.BitcoinService
	Solana     *service.SolanaService
}

// NewServices 构造链服务。RPC 不可用时只记录警告，交易签名返回 ErrChainBackend
func NewServices(ctx context.Context, cfg config.Config, m *dmk.Manager) (*Services, error) {
	chainCache := cache.NewMemoryCache(time.Minute, 5*time.Minute)
	s := &Services{
		Connection: service.NewConnectionService(m, cfg.Device.ConnectTimeout).WithRefresher(cfg.Device.RefresherInterval),
	}

	// 1. Ethereum
	var ethBuilder *ethchain.Builder
	if cfg.Ethereum.RpcUrl != "" {
		client, err := ethchain.Dial(ctx, cfg.Ethereum.RpcUrl)
		if err != nil {
			logger.Warn("以太坊节点不可用", zap.String("rpc", cfg.Ethereum.RpcUrl), zap.Error(err))
		} else if ethBuilder, err = ethchain.NewBuilder(client, cfg.Ethereum.ChainID, cfg.Ethereum.Amount); err != nil {
			return nil, err
		}
	}
	s.Ethereum = service.NewEthereumService(m, ethBuilder)

	// 2. Bitcoin
	network, err := btcchain.NetworkParams(cfg.Bitcoin.Network)
	if err != nil {
		return nil, err
	}
	var fees btcchain.FeeEstimator = btcchain.StaticFee(cfg.Bitcoin.FeeSats)
	if cfg.Bitcoin.RpcUrl != "" {
		fees = btcchain.NewRPCFeeEstimator(cfg.Bitcoin.RpcUrl, cfg.Bitcoin.ConfTarget, cfg.Bitcoin.FeeSats).
			WithCache(chainCache, feeRateTTL)
	}
	s.Bitcoin = service.NewBitcoinService(m, network, btcchain.NewBuilder(network, fees))

	// 3. Solana
	var solBuilder *solchain.Builder
	if cfg.Solana.RpcUrl != "" {
		source := solchain.NewCachedBlockhash(solchain.NewRPCBlockhashSource(cfg.Solana.RpcUrl), chainCache, blockhashTTL)
		if solBuilder, err = solchain.NewBuilder(source, cfg.Solana.Amount, cfg.Solana.Memo); err != nil {
			return nil, err
		}
	}
	s.Solana = service.NewSolanaService(m, solBuilder)

	return s, nil
}

// Get 按链名返回服务
func (s *Services) Get(chain string) (service.ChainService, bool) {
	switch chain {
	case service.ChainEthereum:
		return s.Ethereum, true
	case service.ChainBitcoin:
		return s.Bitcoin, true
	case service.ChainSolana:
		return s.Solana, true
	}
	return nil, false
}

// Registry 每条链一个 Workbench，共用同一个连接服务
func (s *Services) Registry() *service.Registry {
	return service.NewRegistry(
		service.NewWorkbench(s.Connection, s.Ethereum),
		service.NewWorkbench(s.Connection, s.Bitcoin),
		service.NewWorkbench(s.Connection, s.Solana),
	)
}
