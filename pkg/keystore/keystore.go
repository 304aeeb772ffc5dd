package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"signer-core/pkg/safe_random"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

// ErrMACMismatch 密码错误或文件损坏
var ErrMACMismatch = errors.New("invalid password or corrupted data (MAC mismatch)")

// EncryptedSeedJSON 模拟设备的种子保险库，结构参照 Ethereum Keystore V3，
// 但保存的是助记词而不是单个私钥
type EncryptedSeedJSON struct {
	Crypto  CryptoJSON `json:"crypto"`
	Id      string     `json:"id"`      // UUID
	Label   string     `json:"label"`   // 设备名称
	Version int        `json:"version"` // 3
}

type CryptoJSON struct {
	Cipher       string       `json:"cipher"`       // "aes-256-gcm"
	CipherText   string       `json:"ciphertext"`   // Hex string
	CipherParams CipherParams `json:"cipherparams"` // IV
	KDF          string       `json:"kdf"`          // "scrypt"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"` // Hex string
}

type CipherParams struct {
	IV string `json:"iv"` // Hex string
}

type KDFParams struct {
	DKLen int    `json:"dklen"` // Derived Key Length (32)
	N     int    `json:"n"`     // Scrypt N
	R     int    `json:"r"`     // Scrypt r (8)
	P     int    `json:"p"`     // Scrypt p (1)
	Salt  string `json:"salt"`  // Hex string
}

// ScryptN 可在测试中调小
var ScryptN = 262144

const (
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32
)

// EncryptMnemonic 将助记词使用密码加密为 JSON 结构
func EncryptMnemonic(mnemonic, password, label string) (*EncryptedSeedJSON, error) {
	// 1. 生成随机 Salt
	salt, err := safe_random.GenerateRandomBytes(32)
	if err != nil {
		return nil, err
	}

	// 2. scrypt 派生 AES-256 密钥
	derivedKey, err := scrypt.Key([]byte(password), salt, ScryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return nil, err
	}

	// 3. AES-256-GCM 加密
	gcm, err := newGCM(derivedKey)
	if err != nil {
		return nil, err
	}
	nonce, err := safe_random.GenerateRandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(mnemonic), nil)

	// 4. MAC = SHA256(derivedKey || ciphertext)
	mac := computeMAC(derivedKey, ciphertext)

	return &EncryptedSeedJSON{
		Version: 3,
		Id:      uuid.NewString(),
		Label:   label,
		Crypto: CryptoJSON{
			Cipher:       "aes-256-gcm",
			CipherText:   hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{IV: hex.EncodeToString(nonce)},
			KDF:          "scrypt",
			KDFParams: KDFParams{
				DKLen: scryptDKLen,
				N:     ScryptN,
				R:     scryptR,
				P:     scryptP,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac),
		},
	}, nil
}

// DecryptMnemonic 解密获取助记词
func DecryptMnemonic(keyJSON *EncryptedSeedJSON, password string) (string, error) {
	c := keyJSON.Crypto
	if c.KDF != "scrypt" || c.Cipher != "aes-256-gcm" {
		return "", fmt.Errorf("unsupported keystore kdf/cipher: %s/%s", c.KDF, c.Cipher)
	}

	// 1. 解析 Hex 参数
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	nonce, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return "", fmt.Errorf("invalid iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}
	mac, err := hex.DecodeString(c.MAC)
	if err != nil {
		return "", fmt.Errorf("invalid mac: %w", err)
	}

	// 2. 重新派生密钥
	derivedKey, err := scrypt.Key([]byte(password), salt, c.KDFParams.N, c.KDFParams.R, c.KDFParams.P, c.KDFParams.DKLen)
	if err != nil {
		return "", err
	}

	// 3. 验证 MAC
	if subtle.ConstantTimeCompare(mac, computeMAC(derivedKey, ciphertext)) != 1 {
		return "", ErrMACMismatch
	}

	// 4. 解密
	gcm, err := newGCM(derivedKey)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// SaveToFile 保存到文件 (0600)
func (k *EncryptedSeedJSON) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600)
}

// LoadFromFile 从文件加载
func LoadFromFile(filename string) (*EncryptedSeedJSON, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var k EncryptedSeedJSON
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse keystore %s: %w", filename, err)
	}
	return &k, nil
}

// OpenMnemonic 加载并解密，模拟设备启动时使用
func OpenMnemonic(filename, password string) (string, error) {
	k, err := LoadFromFile(filename)
	if err != nil {
		return "", err
	}
	return DecryptMnemonic(k, password)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func computeMAC(derivedKey, ciphertext []byte) []byte {
	h := sha256.New()
	h.Write(derivedKey)
	h.Write(ciphertext)
	return h.Sum(nil)
}
