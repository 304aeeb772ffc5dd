package address

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// SOLGenerator Solana 地址就是 ed25519 公钥的 Base58 编码
type SOLGenerator struct{}

func NewSOLGenerator() *SOLGenerator {
	return &SOLGenerator{}
}

func (g *SOLGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid ed25519 public key length %d", len(pubKeyBytes))
	}
	return base58.Encode(pubKeyBytes), nil
}

// AddressToPubKey 反向解码
func (g *SOLGenerator) AddressToPubKey(addr string) (ed25519.PublicKey, error) {
	raw := base58.Decode(addr)
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid solana address %q", addr)
	}
	return ed25519.PublicKey(raw), nil
}
