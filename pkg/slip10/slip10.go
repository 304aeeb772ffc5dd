// Package slip10 implements SLIP-0010 key derivation for the ed25519 curve.
// Only hardened derivation exists on ed25519, so every index is hardened
// implicitly when it is below 2^31.
package slip10

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
)

const hardenedOffset uint32 = 0x80000000

var curveSeed = []byte("ed25519 seed")

var ErrInvalidSeed = errors.New("slip10: seed must be between 16 and 64 bytes")

// Key 一个 ed25519 扩展私钥
type Key struct {
	Key       []byte
	ChainCode []byte
}

// NewMasterKey 从 BIP-39 种子生成主密钥
func NewMasterKey(seed []byte) (*Key, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, ErrInvalidSeed
	}
	mac := hmac.New(sha512.New, curveSeed)
	mac.Write(seed)
	sum := mac.Sum(nil)
	return &Key{Key: sum[:32], ChainCode: sum[32:]}, nil
}

// Derive 派生硬化子密钥
func (k *Key) Derive(index uint32) *Key {
	if index < hardenedOffset {
		index += hardenedOffset
	}
	data := make([]byte, 0, 37)
	data = append(data, 0x00)
	data = append(data, k.Key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, k.ChainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return &Key{Key: sum[:32], ChainCode: sum[32:]}
}

// DerivePath 沿路径逐级派生
func (k *Key) DerivePath(path []uint32) *Key {
	current := k
	for _, index := range path {
		current = current.Derive(index)
	}
	return current
}

// PrivateKey 返回标准库格式的私钥
func (k *Key) PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(k.Key)
}

// PublicKey 返回 32 字节公钥
func (k *Key) PublicKey() ed25519.PublicKey {
	return k.PrivateKey().Public().(ed25519.PublicKey)
}
