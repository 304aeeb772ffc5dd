package service

import (
	"context"

	"signer-core/internal/dmk"
)

// 支持的链
const (
	ChainEthereum = "ethereum"
	ChainBitcoin  = "bitcoin"
	ChainSolana   = "solana"
)

// DemoMessage 各链签名的固定明文
const DemoMessage = "hello world"

// Signer 绑定到一个设备会话的链签名器
type Signer interface {
	Session() dmk.SessionID
}

// Paths 一条链使用的派生路径
type Paths struct {
	// Address 读取地址 / xpub 的路径 (BTC 为账户路径)
	Address string
	// Signing 消息签名与验证共用的路径
	Signing string
}

// ChainService 单条链的工作流: 签名器工厂、地址解析、消息签名与验证、交易签名
type ChainService interface {
	Chain() string
	Paths() Paths

	// NewSigner 空会话返回 nil
	NewSigner(session dmk.SessionID) Signer

	// ResolveAddress 失败或 signer 为 nil 时返回空字符串
	ResolveAddress(ctx context.Context, signer Signer, path string) string

	// SignMessage signer 为 nil 时返回 errno.ErrSignerNotConnected
	SignMessage(ctx context.Context, signer Signer, path string, message []byte) (string, error)

	// VerifyMessage path 与 SignMessage 相同，任何失败都返回 false
	VerifyMessage(ctx context.Context, signer Signer, path string, message []byte, signature string) bool

	// SignTransaction 构造自转账并签名，返回编码后的交易 (不广播)
	SignTransaction(ctx context.Context, signer Signer, path string) (string, error)
}

// TypedDataSigner 支持结构化数据签名的链
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, signer Signer, path string) (string, error)
	VerifyTypedData(ctx context.Context, signer Signer, path string, signature string) bool
}
