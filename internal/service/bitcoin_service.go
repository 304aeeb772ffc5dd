package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	btcchain "signer-core/internal/chain/bitcoin"
	"signer-core/internal/dmk"
	btcsigner "signer-core/internal/signer/bitcoin"
	"signer-core/pkg/bip32"
	"signer-core/pkg/errno"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	BitcoinAccountPath = "84'/0'/0'"
	BitcoinLeafPath    = "84'/0'/0'/0/0"
)

// BitcoinService 比特币工作流，地址解析返回账户 xpub
type BitcoinService struct {
	manager *dmk.Manager
	builder *btcchain.Builder
	network *chaincfg.Params
}

func NewBitcoinService(m *dmk.Manager, network *chaincfg.Params, builder *btcchain.Builder) *BitcoinService {
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	if builder == nil {
		builder = btcchain.NewBuilder(network, nil)
	}
	return &BitcoinService{manager: m, builder: builder, network: network}
}

func (s *BitcoinService) Chain() string { return ChainBitcoin }

func (s *BitcoinService) Paths() Paths {
	return Paths{Address: BitcoinAccountPath, Signing: BitcoinLeafPath}
}

func (s *BitcoinService) NewSigner(session dmk.SessionID) Signer {
	if session == "" {
		return nil
	}
	return btcsigner.NewSigner(s.manager, session)
}

func (s *BitcoinService) ResolveAddress(ctx context.Context, signer Signer, path string) string {
	btc, err := asBitcoin(signer)
	if err != nil {
		return ""
	}
	xpub, err := runAction(ctx, ChainBitcoin, "get_extended_public_key", btc.GetExtendedPublicKey(ctx, path, false))
	if err != nil {
		return ""
	}
	return xpub
}

func (s *BitcoinService) SignMessage(ctx context.Context, signer Signer, path string, message []byte) (string, error) {
	btc, err := asBitcoin(signer)
	if err != nil {
		return "", err
	}
	sig, err := runAction(ctx, ChainBitcoin, "sign_message", btc.SignMessage(ctx, path, message))
	if err != nil {
		return "", err
	}
	return BitcoinEncoder{}.Encode(sig)
}

// VerifyMessage path 与 SignMessage 相同 (叶子路径)。
// 设备只导出账户 xpub，末两级非硬化索引在本地公钥派生。
func (s *BitcoinService) VerifyMessage(ctx context.Context, signer Signer, path string, message []byte, signature string) bool {
	if signature == "" || signer == nil {
		return false
	}
	rs, err := hex.DecodeString(signature)
	if err != nil || len(rs) != 64 {
		return false
	}
	indices, err := bip32.ParsePath(path)
	if err != nil || len(indices) < 2 {
		return false
	}
	split := len(indices) - 2
	xpub := s.ResolveAddress(ctx, signer, bip32.FormatPath(indices[:split]))
	if xpub == "" {
		return false
	}
	account, err := bip32.ParseExtendedKey(xpub, s.network)
	if err != nil {
		return false
	}
	leaf, err := account.DerivePath(indices[split:])
	if err != nil {
		return false
	}
	pub, err := leaf.ECPubKey()
	if err != nil {
		return false
	}
	return btcchain.VerifyMessage(pub, message, rs)
}

// SignTransaction path 为账户路径，返回已签名交易的 hex
func (s *BitcoinService) SignTransaction(ctx context.Context, signer Signer, path string) (string, error) {
	btc, err := asBitcoin(signer)
	if err != nil {
		return "", err
	}

	// 1. 账户 xpub 与主指纹
	xpub := s.ResolveAddress(ctx, signer, path)
	if xpub == "" {
		return "", fmt.Errorf("%w: resolve xpub", errno.ErrDeviceAction)
	}
	fp, err := runAction(ctx, ChainBitcoin, "get_master_fingerprint", btc.GetMasterFingerprint(ctx))
	if err != nil {
		return "", err
	}

	// 2. PSBT
	packet, err := s.builder.BuildSelfTransfer(ctx, btcchain.AccountKey{
		Xpub:              xpub,
		MasterFingerprint: fp,
		AccountPath:       strings.TrimPrefix(path, "m/"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errno.ErrChainBackend, err)
	}

	// 3. 设备签名并 finalize
	tx, err := runAction(ctx, ChainBitcoin, "sign_transaction", btc.SignTransaction(ctx, btcsigner.DefaultWallet(path), packet))
	if err != nil {
		return "", err
	}
	return btcchain.EncodeTx(tx)
}

func asBitcoin(signer Signer) (*btcsigner.Signer, error) {
	if signer == nil {
		return nil, errno.ErrSignerNotConnected
	}
	btc, ok := signer.(*btcsigner.Signer)
	if !ok || btc == nil {
		return nil, errno.ErrSignerNotConnected
	}
	return btc, nil
}
