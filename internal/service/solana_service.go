package service

import (
	"context"
	"fmt"

	solchain "signer-core/internal/chain/solana"
	"signer-core/internal/dmk"
	solsigner "signer-core/internal/signer/solana"
	"signer-core/pkg/address"
	"signer-core/pkg/errno"
)

const SolanaLeafPath = "44'/501'/0'/0'"

// SolanaService Solana 工作流，消息签名返回 base58 信封
type SolanaService struct {
	manager *dmk.Manager
	builder *solchain.Builder
}

// NewSolanaService builder 为 nil 时交易签名不可用
func NewSolanaService(m *dmk.Manager, builder *solchain.Builder) *SolanaService {
	return &SolanaService{manager: m, builder: builder}
}

func (s *SolanaService) Chain() string { return ChainSolana }

func (s *SolanaService) Paths() Paths {
	return Paths{Address: SolanaLeafPath, Signing: SolanaLeafPath}
}

func (s *SolanaService) NewSigner(session dmk.SessionID) Signer {
	if session == "" {
		return nil
	}
	return solsigner.NewSigner(s.manager, session)
}

func (s *SolanaService) ResolveAddress(ctx context.Context, signer Signer, path string) string {
	sol, err := asSolana(signer)
	if err != nil {
		return ""
	}
	res, err := runAction(ctx, ChainSolana, "get_address", sol.GetAddress(ctx, path, false))
	if err != nil {
		return ""
	}
	return res.Address
}

func (s *SolanaService) SignMessage(ctx context.Context, signer Signer, path string, message []byte) (string, error) {
	sol, err := asSolana(signer)
	if err != nil {
		return "", err
	}
	envelope, err := runAction(ctx, ChainSolana, "sign_message", sol.SignMessage(ctx, path, message))
	if err != nil {
		return "", err
	}
	return SolanaEncoder{Expected: message}.Encode(envelope)
}

func (s *SolanaService) VerifyMessage(ctx context.Context, signer Signer, path string, message []byte, signature string) bool {
	if signature == "" || signer == nil {
		return false
	}
	addr := s.ResolveAddress(ctx, signer, path)
	if addr == "" {
		return false
	}
	pub, err := address.NewSOLGenerator().AddressToPubKey(addr)
	if err != nil {
		return false
	}
	return solchain.VerifyEnvelope(signature, pub, message)
}

// AppConfiguration 读取 Solana App 配置
func (s *SolanaService) AppConfiguration(ctx context.Context, signer Signer) (solsigner.AppConfiguration, error) {
	sol, err := asSolana(signer)
	if err != nil {
		return solsigner.AppConfiguration{}, err
	}
	return runAction(ctx, ChainSolana, "get_app_configuration", sol.GetAppConfiguration(ctx))
}

// SignTransaction 转账 + memo，返回 base64 编码的已签名交易
func (s *SolanaService) SignTransaction(ctx context.Context, signer Signer, path string) (string, error) {
	sol, err := asSolana(signer)
	if err != nil {
		return "", err
	}
	if s.builder == nil {
		return "", errno.ErrChainBackend.WithMessage("solana rpc not configured")
	}

	// 1. 公钥
	addr, err := runAction(ctx, ChainSolana, "get_address", sol.GetAddress(ctx, path, false))
	if err != nil {
		return "", err
	}

	// 2. 构造交易
	tx, err := s.builder.BuildSelfTransfer(ctx, addr.PublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errno.ErrChainBackend, err)
	}
	msg, err := solchain.MessageBytes(tx)
	if err != nil {
		return "", err
	}

	// 3. 设备签名
	sig, err := runAction(ctx, ChainSolana, "sign_transaction", sol.SignTransaction(ctx, path, msg))
	if err != nil {
		return "", err
	}
	return solchain.AttachSignature(tx, sig)
}

func asSolana(signer Signer) (*solsigner.Signer, error) {
	if signer == nil {
		return nil, errno.ErrSignerNotConnected
	}
	sol, ok := signer.(*solsigner.Signer)
	if !ok || sol == nil {
		return nil, errno.ErrSignerNotConnected
	}
	return sol, nil
}
