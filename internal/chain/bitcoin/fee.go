package bitcoin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"signer-core/pkg/cache"
	"signer-core/pkg/logger"

	"github.com/ybbus/jsonrpc/v2"
	"go.uber.org/zap"
)

// FeeEstimator 估算一笔交易的手续费 (sat)
type FeeEstimator interface {
	EstimateFee(ctx context.Context, vsize int64) (int64, error)
}

// StaticFee 固定手续费
type StaticFee int64

func (f StaticFee) EstimateFee(context.Context, int64) (int64, error) {
	return int64(f), nil
}

// smartFeeResult estimatesmartfee 的返回
type smartFeeResult struct {
	FeeRate float64  `json:"feerate"` // BTC/kvB
	Errors  []string `json:"errors"`
	Blocks  int      `json:"blocks"`
}

// RPCFeeEstimator 通过 bitcoind estimatesmartfee 估算费率，失败时回退到固定手续费
type RPCFeeEstimator struct {
	client     jsonrpc.RPCClient
	confTarget int
	fallback   int64
	cache      cache.Cache
	ttl        time.Duration
}

// NewRPCFeeEstimator endpoint 可带 user:pass@ 形式的认证信息
func NewRPCFeeEstimator(endpoint string, confTarget int, fallback int64) *RPCFeeEstimator {
	if confTarget <= 0 {
		confTarget = 6
	}
	return &RPCFeeEstimator{
		client:     jsonrpc.NewClient(endpoint),
		confTarget: confTarget,
		fallback:   fallback,
	}
}

// WithCache 在 ttl 内复用上一次查到的费率
func (e *RPCFeeEstimator) WithCache(c cache.Cache, ttl time.Duration) *RPCFeeEstimator {
	e.cache, e.ttl = c, ttl
	return e
}

func (e *RPCFeeEstimator) EstimateFee(ctx context.Context, vsize int64) (int64, error) {
	rate, err := e.feeRate(ctx)
	if err != nil {
		logger.Warn("estimatesmartfee 失败，使用固定手续费",
			zap.Int64("fallback_sats", e.fallback),
			zap.Error(err))
		return e.fallback, nil
	}
	return FeeForRate(rate, vsize), nil
}

// feeRate BTC/kvB
func (e *RPCFeeEstimator) feeRate(ctx context.Context) (float64, error) {
	key := fmt.Sprintf("btc:feerate:%d", e.confTarget)
	if e.cache != nil {
		var rate float64
		if err := e.cache.Get(ctx, key, &rate); err == nil {
			return rate, nil
		}
	}
	rate, err := e.estimate()
	if err != nil {
		return 0, err
	}
	if e.cache != nil {
		_ = e.cache.Set(ctx, key, rate, e.ttl)
	}
	return rate, nil
}

func (e *RPCFeeEstimator) estimate() (float64, error) {
	res, err := e.client.Call("estimatesmartfee", e.confTarget)
	if err != nil {
		return 0, err
	}
	if res.Error != nil {
		return 0, fmt.Errorf("bitcoind: %s", res.Error.Message)
	}
	var out smartFeeResult
	if err := res.GetObject(&out); err != nil {
		return 0, fmt.Errorf("decode estimatesmartfee: %w", err)
	}
	if len(out.Errors) > 0 {
		return 0, errors.New(strings.Join(out.Errors, "; "))
	}
	if out.FeeRate <= 0 {
		return 0, errors.New("no fee rate available")
	}
	return out.FeeRate, nil
}

// FeeForRate BTC/kvB 费率换算为 vsize 字节的手续费，向上取整
func FeeForRate(btcPerKvB float64, vsize int64) int64 {
	satPerVByte := btcPerKvB * 1e8 / 1000
	return int64(math.Ceil(satPerVByte * float64(vsize)))
}
