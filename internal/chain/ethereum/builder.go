package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"signer-core/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const SepoliaChainID int64 = 11155111

var ErrChainMismatch = errors.New("rpc endpoint serves a different chain")

// ChainReader 构造交易所需的只读 RPC 能力，*ethclient.Client 满足该接口
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Dial 连接以太坊节点
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// ToWei 十进制 ETH 数额转换为 wei
func ToWei(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	wei := d.Shift(18)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than 18 decimals", amount)
	}
	return wei.BigInt(), nil
}

// Builder 构造 EIP-1559 自转账交易
type Builder struct {
	reader  ChainReader
	chainID *big.Int
	value   *big.Int
}

func NewBuilder(reader ChainReader, chainID int64, amount string) (*Builder, error) {
	value, err := ToWei(amount)
	if err != nil {
		return nil, err
	}
	return &Builder{reader: reader, chainID: big.NewInt(chainID), value: value}, nil
}

func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// BuildSelfTransfer nonce / tip / fee cap / gas 均来自节点
func (b *Builder) BuildSelfTransfer(ctx context.Context, from common.Address) (*types.Transaction, error) {
	// 1. 确认节点所在的链
	chainID, err := b.reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Cmp(b.chainID) != 0 {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrChainMismatch, b.chainID, chainID)
	}

	// 2. nonce
	nonce, err := b.reader.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	// 3. 费用: maxFee = 2 * baseFee + tip
	tip, err := b.reader.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := b.reader.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, errors.New("chain does not support EIP-1559")
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	// 4. gas，余额不足时节点会拒绝估算，普通转账回退为 21000
	gas, err := b.reader.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &from, Value: b.value})
	if err != nil {
		logger.Warn("estimateGas 失败，使用默认 gas", zap.String("from", from.Hex()), zap.Error(err))
		gas = params.TxGas
	}

	to := from
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int).Set(b.value),
	}), nil
}

// UnsignedPayload 设备签名的原文: 0x02 || rlp([chainId, nonce, tip, feeCap, gas, to, value, data, accessList])
func UnsignedPayload(tx *types.Transaction) ([]byte, error) {
	if tx.Type() != types.DynamicFeeTxType {
		return nil, fmt.Errorf("unsupported tx type %d", tx.Type())
	}
	body, err := rlp.EncodeToBytes([]interface{}{
		tx.ChainId(),
		tx.Nonce(),
		tx.GasTipCap(),
		tx.GasFeeCap(),
		tx.Gas(),
		tx.To(),
		tx.Value(),
		tx.Data(),
		tx.AccessList(),
	})
	if err != nil {
		return nil, err
	}
	return append([]byte{types.DynamicFeeTxType}, body...), nil
}

// AttachSignature 附加 r||s||v 签名，v 可为 0/1 或 27/28
func AttachSignature(tx *types.Transaction, sig []byte) (*types.Transaction, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	return tx.WithSignature(types.LatestSignerForChainID(tx.ChainId()), normalized)
}

// EncodeSigned 已签名交易的 0x 前缀 hex
func EncodeSigned(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw), nil
}
