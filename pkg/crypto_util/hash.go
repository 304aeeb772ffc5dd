package crypto_util

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// DoubleSHA256 比特币使用的 SHA256(SHA256(data))
func DoubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

// Keccak256 以太坊使用的哈希算法
func Keccak256(data ...[]byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	return hash.Sum(nil)
}

// Digest 日志里代替原始载荷的短摘要 (Blake3 前 8 字节)
func Digest(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

const bitcoinMessageMagic = "Bitcoin Signed Message:\n"

// BitcoinMessageHash signmessage 使用的哈希:
// DoubleSHA256(varstr(magic) || varstr(message))
func BitcoinMessageHash(message []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, bitcoinMessageMagic)
	_ = wire.WriteVarBytes(&buf, 0, message)
	return DoubleSHA256(buf.Bytes())
}
