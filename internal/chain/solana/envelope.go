package solana

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"signer-core/pkg/crypto_util"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// SignedEnvelope 已签名的链下消息: count(1) | signature(64)*count | offchain message
type SignedEnvelope struct {
	Signatures [][]byte
	Message    []byte
}

// EncodeEnvelope 单签名者的 base58 信封
func EncodeEnvelope(signature, offchain []byte) (string, error) {
	if len(signature) != ed25519.SignatureSize {
		return "", fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}
	out := make([]byte, 0, 1+len(signature)+len(offchain))
	out = append(out, 1)
	out = append(out, signature...)
	out = append(out, offchain...)
	return base58.Encode(out), nil
}

// DecodeEnvelope 解析 base58 信封
func DecodeEnvelope(encoded string) (SignedEnvelope, error) {
	raw := base58.Decode(encoded)
	if len(raw) < 1 {
		return SignedEnvelope{}, fmt.Errorf("%w: empty envelope", ErrInvalidOffchainMessage)
	}
	count := int(raw[0])
	if count == 0 || len(raw) < 1+count*ed25519.SignatureSize {
		return SignedEnvelope{}, fmt.Errorf("%w: truncated signatures", ErrInvalidOffchainMessage)
	}
	env := SignedEnvelope{}
	for i := 0; i < count; i++ {
		start := 1 + i*ed25519.SignatureSize
		env.Signatures = append(env.Signatures, raw[start:start+ed25519.SignatureSize])
	}
	env.Message = raw[1+count*ed25519.SignatureSize:]
	return env, nil
}

// VerifyEnvelope 验证信封由 pub 签名，且内嵌消息等于 expected
func VerifyEnvelope(encoded string, pub ed25519.PublicKey, expected []byte) bool {
	env, err := DecodeEnvelope(encoded)
	if err != nil {
		return false
	}
	msg, err := DecodeOffchainMessage(env.Message)
	if err != nil || !bytes.Equal(msg.Message, expected) {
		return false
	}
	return crypto_util.Ed25519Verify(pub, env.Message, env.Signatures[0])
}
