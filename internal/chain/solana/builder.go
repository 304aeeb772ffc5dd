package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"signer-core/pkg/cache"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// BlockhashSource 提供最近区块哈希，*RPCBlockhashSource 连接真实节点
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (sol.Hash, error)
}

// RPCBlockhashSource 通过 JSON-RPC 读取 finalized 区块哈希
type RPCBlockhashSource struct {
	client *rpc.Client
}

func NewRPCBlockhashSource(endpoint string) *RPCBlockhashSource {
	return &RPCBlockhashSource{client: rpc.New(endpoint)}
}

func (s *RPCBlockhashSource) LatestBlockhash(ctx context.Context) (sol.Hash, error) {
	out, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return sol.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return sol.Hash{}, errors.New("getLatestBlockhash: empty result")
	}
	return out.Value.Blockhash, nil
}

// StaticBlockhash 固定区块哈希，离线构造使用
type StaticBlockhash sol.Hash

func (h StaticBlockhash) LatestBlockhash(context.Context) (sol.Hash, error) {
	return sol.Hash(h), nil
}

// CachedBlockhash 在 ttl 内复用上一次取到的区块哈希，减少 RPC 调用
type CachedBlockhash struct {
	source BlockhashSource
	cache  cache.Cache
	ttl    time.Duration
}

func NewCachedBlockhash(source BlockhashSource, c cache.Cache, ttl time.Duration) *CachedBlockhash {
	return &CachedBlockhash{source: source, cache: c, ttl: ttl}
}

func (c *CachedBlockhash) LatestBlockhash(ctx context.Context) (sol.Hash, error) {
	const key = "sol:blockhash"
	var encoded string
	if err := c.cache.Get(ctx, key, &encoded); err == nil {
		if h, err := sol.HashFromBase58(encoded); err == nil {
			return h, nil
		}
	}
	h, err := c.source.LatestBlockhash(ctx)
	if err != nil {
		return sol.Hash{}, err
	}
	_ = c.cache.Set(ctx, key, h.String(), c.ttl)
	return h, nil
}

// ToLamports 十进制 SOL 数额转换为 lamports
func ToLamports(amount string) (uint64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %q", amount)
	}
	lamports := d.Shift(9)
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than 9 decimals", amount)
	}
	if !lamports.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %q overflows", amount)
	}
	return lamports.BigInt().Uint64(), nil
}

// Builder 构造带 memo 的自转账
type Builder struct {
	blockhash BlockhashSource
	lamports  uint64
	memo      string
}

func NewBuilder(blockhash BlockhashSource, amount, memo string) (*Builder, error) {
	lamports, err := ToLamports(amount)
	if err != nil {
		return nil, err
	}
	return &Builder{blockhash: blockhash, lamports: lamports, memo: memo}, nil
}

// BuildSelfTransfer payer 既是付款方也是收款方
func (b *Builder) BuildSelfTransfer(ctx context.Context, payer ed25519.PublicKey) (*sol.Transaction, error) {
	if len(payer) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(payer))
	}
	from := sol.PublicKeyFromBytes(payer)

	// 1. 最近区块哈希
	recent, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	// 2. 转账 + memo
	instructions := []sol.Instruction{
		system.NewTransferInstruction(b.lamports, from, from).Build(),
	}
	if b.memo != "" {
		instructions = append(instructions, sol.NewInstruction(
			sol.MemoProgramID,
			sol.AccountMetaSlice{sol.NewAccountMeta(from, false, true)},
			[]byte(b.memo),
		))
	}

	tx, err := sol.NewTransaction(instructions, recent, sol.TransactionPayer(from))
	if err != nil {
		return nil, fmt.Errorf("new transaction: %w", err)
	}
	return tx, nil
}

// MessageBytes 设备签名的原文
func MessageBytes(tx *sol.Transaction) ([]byte, error) {
	return tx.Message.MarshalBinary()
}

// AttachSignature 附加付款方签名并返回 base64 编码的交易
func AttachSignature(tx *sol.Transaction, signature []byte) (string, error) {
	if len(signature) != ed25519.SignatureSize {
		return "", fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	tx.Signatures = []sol.Signature{sol.SignatureFromBytes(signature)}
	if err := tx.VerifySignatures(); err != nil {
		return "", fmt.Errorf("verify signature: %w", err)
	}
	return tx.ToBase64()
}
