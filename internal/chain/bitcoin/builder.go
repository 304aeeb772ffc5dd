package bitcoin

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"signer-core/pkg/bip32"
	"signer-core/pkg/crypto_util"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// 演示用的虚拟 UTXO，交易只签名不广播
	DummyTxID        = "cadb0f4ec36b4224cfad23c3add46d03fe500b0d8f0760e913dcbf29210bd8fe"
	DummyVout        = 0
	DummyValue int64 = 5_000_000_000

	DefaultFeeSats int64 = 500

	// 1 个 p2wpkh 输入 + 1 个 p2wpkh 输出
	selfTransferVsize = 110
)

// NetworkParams 按名称返回网络参数
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

// AccountKey 设备返回的账户信息
type AccountKey struct {
	Xpub              string
	MasterFingerprint []byte
	AccountPath       string
}

// LeafKey 账户 xpub 下 /0/0 的公钥与地址
func LeafKey(xpub string, network *chaincfg.Params) (*btcec.PublicKey, string, error) {
	account, err := bip32.ParseExtendedKey(xpub, network)
	if err != nil {
		return nil, "", err
	}
	leaf, err := account.DerivePath([]uint32{0, 0})
	if err != nil {
		return nil, "", err
	}
	pub, err := leaf.ECPubKey()
	if err != nil {
		return nil, "", err
	}
	return pub, leaf.Address(), nil
}

// Builder 构造自转账 PSBT
type Builder struct {
	network *chaincfg.Params
	fees    FeeEstimator
}

func NewBuilder(network *chaincfg.Params, fees FeeEstimator) *Builder {
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	if fees == nil {
		fees = StaticFee(DefaultFeeSats)
	}
	return &Builder{network: network, fees: fees}
}

// BuildSelfTransfer 花费虚拟 UTXO 转给自己 (p2wpkh)，带 bip32 派生信息供设备识别
func (b *Builder) BuildSelfTransfer(ctx context.Context, acct AccountKey) (*psbt.Packet, error) {
	if len(acct.MasterFingerprint) != 4 {
		return nil, fmt.Errorf("master fingerprint must be 4 bytes, got %d", len(acct.MasterFingerprint))
	}
	accountPath, err := bip32.ParsePath(acct.AccountPath)
	if err != nil {
		return nil, err
	}

	// 1. 账户下第一个接收地址
	pub, _, err := LeafKey(acct.Xpub, b.network)
	if err != nil {
		return nil, fmt.Errorf("derive receive key: %w", err)
	}
	pubBytes := pub.SerializeCompressed()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubBytes), b.network)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	// 2. 手续费
	fee, err := b.fees.EstimateFee(ctx, selfTransferVsize)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}
	if fee <= 0 || fee >= DummyValue {
		return nil, fmt.Errorf("unreasonable fee %d sats", fee)
	}

	// 3. 未签名交易
	prevHash, err := chainhash.NewHashFromStr(DummyTxID)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, DummyVout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(DummyValue-fee, script))

	// 4. PSBT 与派生信息
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}
	leafPath := append(append([]uint32(nil), accountPath...), 0, 0)
	derivation := &psbt.Bip32Derivation{
		PubKey:               pubBytes,
		MasterKeyFingerprint: binary.LittleEndian.Uint32(acct.MasterFingerprint),
		Bip32Path:            leafPath,
	}
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(DummyValue, script)
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{derivation}
	packet.Outputs[0].Bip32Derivation = []*psbt.Bip32Derivation{derivation}

	if err := packet.SanityCheck(); err != nil {
		return nil, fmt.Errorf("psbt sanity check: %w", err)
	}
	return packet, nil
}

// EncodeTx 序列化为 hex (含见证数据)
func EncodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// VerifyMessage 用公钥验证 r||s 对消息的签名
func VerifyMessage(pub *btcec.PublicKey, message, rs []byte) bool {
	return crypto_util.Secp256k1Verify(pub, crypto_util.BitcoinMessageHash(message), rs)
}
