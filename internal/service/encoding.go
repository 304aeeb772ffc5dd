package service

import (
	"bytes"
	"encoding/hex"
	"fmt"

	solchain "signer-core/internal/chain/solana"
	btcsigner "signer-core/internal/signer/bitcoin"
	ethsigner "signer-core/internal/signer/ethereum"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignatureEncoder 把设备返回的原始签名整理成对外展示的字符串
type SignatureEncoder[T any] interface {
	Encode(raw T) (string, error)
}

// EthereumEncoder 0x || r || s || v
type EthereumEncoder struct{}

func (EthereumEncoder) Encode(sig ethsigner.Signature) (string, error) {
	if len(sig.R) != 32 || len(sig.S) != 32 {
		return "", fmt.Errorf("%w: r/s must be 32 bytes", ethsigner.ErrInvalidSignature)
	}
	return hexutil.Encode(sig.Bytes()), nil
}

// BitcoinEncoder r || s (hex)，V 不参与
type BitcoinEncoder struct{}

func (BitcoinEncoder) Encode(sig btcsigner.Signature) (string, error) {
	if len(sig.R) != 32 || len(sig.S) != 32 {
		return "", fmt.Errorf("%w: r/s must be 32 bytes", btcsigner.ErrInvalidSignature)
	}
	return hex.EncodeToString(sig.R) + hex.EncodeToString(sig.S), nil
}

// SolanaEncoder 解析信封，确认内嵌消息就是请求签名的明文，原样返回信封
type SolanaEncoder struct {
	Expected []byte
}

func (e SolanaEncoder) Encode(envelope string) (string, error) {
	env, err := solchain.DecodeEnvelope(envelope)
	if err != nil {
		return "", err
	}
	msg, err := solchain.DecodeOffchainMessage(env.Message)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(msg.Message, e.Expected) {
		return "", fmt.Errorf("%w: signed message differs from request", solchain.ErrInvalidOffchainMessage)
	}
	return envelope, nil
}
