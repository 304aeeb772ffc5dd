package service

import (
	"context"
	"fmt"

	ethchain "signer-core/internal/chain/ethereum"
	"signer-core/internal/dmk"
	ethsigner "signer-core/internal/signer/ethereum"
	"signer-core/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const EthereumLeafPath = "44'/60'/0'/0/0"

// EthereumService 以太坊工作流
type EthereumService struct {
	manager *dmk.Manager
	builder *ethchain.Builder
	chainID int64
}

// NewEthereumService builder 为 nil 时交易签名不可用
func NewEthereumService(m *dmk.Manager, builder *ethchain.Builder) *EthereumService {
	s := &EthereumService{manager: m, builder: builder, chainID: ethchain.SepoliaChainID}
	if builder != nil {
		s.chainID = builder.ChainID().Int64()
	}
	return s
}

func (s *EthereumService) Chain() string { return ChainEthereum }

func (s *EthereumService) Paths() Paths {
	return Paths{Address: EthereumLeafPath, Signing: EthereumLeafPath}
}

func (s *EthereumService) NewSigner(session dmk.SessionID) Signer {
	if session == "" {
		return nil
	}
	return ethsigner.NewSigner(s.manager, session)
}

func (s *EthereumService) ResolveAddress(ctx context.Context, signer Signer, path string) string {
	eth, err := asEthereum(signer)
	if err != nil {
		return ""
	}
	res, err := runAction(ctx, ChainEthereum, "get_address", eth.GetAddress(ctx, path, false))
	if err != nil {
		return ""
	}
	return res.Address
}

func (s *EthereumService) SignMessage(ctx context.Context, signer Signer, path string, message []byte) (string, error) {
	eth, err := asEthereum(signer)
	if err != nil {
		return "", err
	}
	sig, err := runAction(ctx, ChainEthereum, "sign_message", eth.SignMessage(ctx, path, message))
	if err != nil {
		return "", err
	}
	return EthereumEncoder{}.Encode(sig)
}

func (s *EthereumService) VerifyMessage(ctx context.Context, signer Signer, path string, message []byte, signature string) bool {
	sig, addr, ok := s.prepareVerify(ctx, signer, path, signature)
	if !ok {
		return false
	}
	return ethchain.VerifyPersonalMessage(addr, message, sig)
}

// SignTypedData 签名 Person 示例结构化数据
func (s *EthereumService) SignTypedData(ctx context.Context, signer Signer, path string) (string, error) {
	eth, err := asEthereum(signer)
	if err != nil {
		return "", err
	}
	typed := ethchain.DemoTypedData(s.chainID)
	sig, err := runAction(ctx, ChainEthereum, "sign_typed_data", eth.SignTypedData(ctx, path, typed))
	if err != nil {
		return "", err
	}
	return EthereumEncoder{}.Encode(sig)
}

func (s *EthereumService) VerifyTypedData(ctx context.Context, signer Signer, path string, signature string) bool {
	sig, addr, ok := s.prepareVerify(ctx, signer, path, signature)
	if !ok {
		return false
	}
	return ethchain.VerifyTypedData(addr, ethchain.DemoTypedData(s.chainID), sig)
}

// SignTransaction EIP-1559 自转账，返回 0x 编码的已签名交易
func (s *EthereumService) SignTransaction(ctx context.Context, signer Signer, path string) (string, error) {
	eth, err := asEthereum(signer)
	if err != nil {
		return "", err
	}
	if s.builder == nil {
		return "", errno.ErrChainBackend.WithMessage("ethereum rpc not configured")
	}

	// 1. 地址
	addr := s.ResolveAddress(ctx, signer, path)
	if addr == "" {
		return "", fmt.Errorf("%w: resolve address", errno.ErrDeviceAction)
	}

	// 2. 构造交易
	tx, err := s.builder.BuildSelfTransfer(ctx, common.HexToAddress(addr))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errno.ErrChainBackend, err)
	}
	payload, err := ethchain.UnsignedPayload(tx)
	if err != nil {
		return "", err
	}

	// 3. 设备签名
	sig, err := runAction(ctx, ChainEthereum, "sign_transaction", eth.SignTransaction(ctx, path, payload))
	if err != nil {
		return "", err
	}

	// 4. 附加签名并编码
	signed, err := ethchain.AttachSignature(tx, sig.Bytes())
	if err != nil {
		return "", err
	}
	return ethchain.EncodeSigned(signed)
}

func (s *EthereumService) prepareVerify(ctx context.Context, signer Signer, path, signature string) ([]byte, string, bool) {
	if signature == "" || signer == nil {
		return nil, "", false
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, "", false
	}
	addr := s.ResolveAddress(ctx, signer, path)
	if addr == "" {
		return nil, "", false
	}
	return sig, addr, true
}

func asEthereum(signer Signer) (*ethsigner.Signer, error) {
	if signer == nil {
		return nil, errno.ErrSignerNotConnected
	}
	eth, ok := signer.(*ethsigner.Signer)
	if !ok || eth == nil {
		return nil, errno.ErrSignerNotConnected
	}
	return eth, nil
}
