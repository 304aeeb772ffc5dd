package crypto_util

import (
	"crypto/ed25519"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ------------------------------------------------------------------------------------------------
// secp256k1 (比特币/以太坊)
// ------------------------------------------------------------------------------------------------

// Secp256k1Verify 用 r||s (各 32 字节) 验证哈希签名。
// 设备返回的签名不可信，任何解析错误都视为验证失败。
func Secp256k1Verify(pubKey *btcec.PublicKey, hash, rs []byte) bool {
	if pubKey == nil || len(rs) != 64 || len(hash) != 32 {
		return false
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(rs[:32]); overflow || r.IsZero() {
		return false
	}
	if overflow := s.SetByteSlice(rs[32:]); overflow || s.IsZero() {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(hash, pubKey)
}

// Secp256k1SignCompact 生成 65 字节紧凑签名: header(27+4+recid) || r || s
func Secp256k1SignCompact(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, errors.New("hash must be 32 bytes")
	}
	return ecdsa.SignCompact(priv, hash, true), nil
}

// ------------------------------------------------------------------------------------------------
// Ed25519 (Edwards-curve 数字签名算法)
// Solana 使用的签名算法。
// ------------------------------------------------------------------------------------------------

// Ed25519Sign 对消息进行签名。
func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Ed25519Verify 验证签名，长度不对时直接返回 false 而不是 panic。
func Ed25519Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
