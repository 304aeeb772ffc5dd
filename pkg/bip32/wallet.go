package bip32

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// BTCKeychain 实现了 ExtendedKey 接口，封装了 hdkeychain.ExtendedKey
type BTCKeychain struct {
	key     *hdkeychain.ExtendedKey
	network *chaincfg.Params
}

// ParseExtendedKey 解析 Base58 编码的 xpub / xprv
func ParseExtendedKey(encoded string, network *chaincfg.Params) (*BTCKeychain, error) {
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	key, err := hdkeychain.NewKeyFromString(encoded)
	if err != nil {
		return nil, fmt.Errorf("解析扩展密钥失败: %w", err)
	}
	return &BTCKeychain{key: key, network: network}, nil
}

func (k *BTCKeychain) String() string {
	return k.key.String()
}

func (k *BTCKeychain) ECPubKey() (*btcec.PublicKey, error) {
	return k.key.ECPubKey()
}

// ECPrivKey 返回椭圆曲线私钥
func (k *BTCKeychain) ECPrivKey() (*btcec.PrivateKey, error) {
	return k.key.ECPrivKey()
}

func (k *BTCKeychain) Derive(index uint32) (ExtendedKey, error) {
	childKey, err := k.key.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("派生子密钥失败: %w", err)
	}
	return &BTCKeychain{key: childKey, network: k.network}, nil
}

// DerivePath 从当前密钥沿相对路径继续派生 (扩展公钥只能走非硬化路径)
func (k *BTCKeychain) DerivePath(indices []uint32) (ExtendedKey, error) {
	var current ExtendedKey = k
	for _, index := range indices {
		next, err := current.Derive(index)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (k *BTCKeychain) IsPrivate() bool {
	return k.key.IsPrivate()
}

// Address 返回原生隔离见证 (P2WPKH) 地址
func (k *BTCKeychain) Address() string {
	pub, err := k.key.ECPubKey()
	if err != nil {
		return "unknown"
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), k.network)
	if err != nil {
		return "unknown"
	}
	return addr.EncodeAddress()
}

// Fingerprint 返回该密钥的指纹 (hash160(pubkey) 前 4 字节，大端读取)
func (k *BTCKeychain) Fingerprint() (uint32, error) {
	pub, err := k.key.ECPubKey()
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(btcutil.Hash160(pub.SerializeCompressed())[:4]), nil
}

func (k *BTCKeychain) Neuter() (ExtendedKey, error) {
	neuterKey, err := k.key.Neuter()
	if err != nil {
		return nil, fmt.Errorf("转换公钥失败: %w", err)
	}
	return &BTCKeychain{key: neuterKey, network: k.network}, nil
}

// Wallet 实现 HDWallet 接口
type Wallet struct {
	masterKey *BTCKeychain
	network   *chaincfg.Params
}

// NewMasterKeyFromSeed 使用 BIP-39 种子生成主密钥
// network: 默认为 chaincfg.MainNetParams
func NewMasterKeyFromSeed(seed []byte, network *chaincfg.Params) (*Wallet, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, ErrInvalidSeed
	}

	if network == nil {
		network = &chaincfg.MainNetParams
	}

	masterKey, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, fmt.Errorf("生成主密钥失败: %w", err)
	}

	return &Wallet{
		masterKey: &BTCKeychain{key: masterKey, network: network},
		network:   network,
	}, nil
}

func (w *Wallet) MasterKey() ExtendedKey {
	return w.masterKey
}

// MasterFingerprint 主密钥指纹，PSBT 的 bip32Derivation 使用
func (w *Wallet) MasterFingerprint() (uint32, error) {
	return w.masterKey.Fingerprint()
}

// DerivePath 解析路径并派生密钥
// 支持格式: m/44'/0'/0'/0/0 或 m/44h/0h/0h/0/0
func (w *Wallet) DerivePath(path string) (ExtendedKey, error) {
	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return w.masterKey.DerivePath(indices)
}
