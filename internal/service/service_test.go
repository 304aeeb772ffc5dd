package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethchain "signer-core/internal/chain/ethereum"
	solchain "signer-core/internal/chain/solana"
	"signer-core/internal/dmk"
	"signer-core/internal/dmk/dmktest"
	"signer-core/internal/transport/emulator"
	"signer-core/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	sol "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sepolia struct{}

func (sepolia) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(ethchain.SepoliaChainID), nil
}
func (sepolia) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 1, nil }
func (sepolia) SuggestGasTipCap(context.Context) (*big.Int, error)             { return big.NewInt(1e9), nil }
func (sepolia) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1e10)}, nil
}
func (sepolia) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("insufficient funds")
}

type fixture struct {
	env  *dmktest.Env
	conn *ConnectionService
	eth  *EthereumService
	btc  *BitcoinService
	sol  *SolanaService
}

func newFixture(t *testing.T, opts ...emulator.DeviceOption) *fixture {
	t.Helper()
	env := dmktest.NewEnv(t, opts...)
	ethBuilder, err := ethchain.NewBuilder(sepolia{}, ethchain.SepoliaChainID, "0.0001")
	require.NoError(t, err)
	solBuilder, err := solchain.NewBuilder(solchain.StaticBlockhash(sol.Hash{9}), "0.0001", DemoMessage)
	require.NoError(t, err)
	return &fixture{
		env:  env,
		conn: NewConnectionService(env.Manager, time.Second),
		eth:  NewEthereumService(env.Manager, ethBuilder),
		btc:  NewBitcoinService(env.Manager, nil, nil),
		sol:  NewSolanaService(env.Manager, solBuilder),
	}
}

func (f *fixture) services() []ChainService {
	return []ChainService{f.eth, f.btc, f.sol}
}

func TestConnectionService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, dmk.SessionID(""), f.conn.Disconnect(ctx, id))
	// 重复断开也返回空会话
	assert.Equal(t, dmk.SessionID(""), f.conn.Disconnect(ctx, id))
}

func TestConnectWithoutDevice(t *testing.T) {
	f := newFixture(t)
	devices, err := f.env.Transport.Enumerate(context.Background())
	require.NoError(t, err)
	f.env.Transport.Unplug(devices[0].ID)

	id, err := NewConnectionService(f.env.Manager, 50*time.Millisecond).Connect(context.Background())
	assert.Empty(t, id)
	assert.ErrorIs(t, err, errno.ErrDeviceNotFound)
}

func TestSignerFactory(t *testing.T) {
	f := newFixture(t)
	for _, svc := range f.services() {
		assert.Nil(t, svc.NewSigner(""), svc.Chain())
		s := svc.NewSigner("abc")
		require.NotNil(t, s, svc.Chain())
		assert.Equal(t, dmk.SessionID("abc"), s.Session())
	}
}

func TestNilSigner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, svc := range f.services() {
		t.Run(svc.Chain(), func(t *testing.T) {
			assert.Empty(t, svc.ResolveAddress(ctx, nil, svc.Paths().Address))
			_, err := svc.SignMessage(ctx, nil, svc.Paths().Signing, []byte(DemoMessage))
			assert.ErrorIs(t, err, errno.ErrSignerNotConnected)
			assert.False(t, svc.VerifyMessage(ctx, nil, svc.Paths().Signing, []byte(DemoMessage), "00"))
			_, err = svc.SignTransaction(ctx, nil, svc.Paths().Address)
			assert.ErrorIs(t, err, errno.ErrSignerNotConnected)
		})
	}
}

func TestResolveAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		f.eth.ResolveAddress(ctx, f.eth.NewSigner(id), f.eth.Paths().Address))
	assert.Contains(t, f.btc.ResolveAddress(ctx, f.btc.NewSigner(id), f.btc.Paths().Address), "xpub")
	assert.NotEmpty(t, f.sol.ResolveAddress(ctx, f.sol.NewSigner(id), f.sol.Paths().Address))

	assert.Empty(t, f.eth.ResolveAddress(ctx, f.eth.NewSigner(id), "not/a/path"))
}

func TestSignAndVerifyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	for _, svc := range f.services() {
		t.Run(svc.Chain(), func(t *testing.T) {
			signer := svc.NewSigner(id)
			paths := svc.Paths()
			sig, err := svc.SignMessage(ctx, signer, paths.Signing, []byte(DemoMessage))
			require.NoError(t, err)
			assert.NotEmpty(t, sig)

			assert.True(t, svc.VerifyMessage(ctx, signer, paths.Signing, []byte(DemoMessage), sig))
			assert.False(t, svc.VerifyMessage(ctx, signer, paths.Signing, []byte("hello"), sig))
			assert.False(t, svc.VerifyMessage(ctx, signer, paths.Signing, []byte(DemoMessage), ""))
			assert.False(t, svc.VerifyMessage(ctx, signer, paths.Signing, []byte(DemoMessage), "zz"))
		})
	}
}

func TestBitcoinVerifyUsesSigningPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)
	signer := f.btc.NewSigner(id)

	sig, err := f.btc.SignMessage(ctx, signer, BitcoinLeafPath, []byte(DemoMessage))
	require.NoError(t, err)
	assert.True(t, f.btc.VerifyMessage(ctx, signer, BitcoinLeafPath, []byte(DemoMessage), sig))
	assert.True(t, f.btc.VerifyMessage(ctx, signer, "m/84'/0'/0'/0/0", []byte(DemoMessage), sig))

	assert.False(t, f.btc.VerifyMessage(ctx, signer, "84'/0'/0'/0/1", []byte(DemoMessage), sig))
	assert.False(t, f.btc.VerifyMessage(ctx, signer, BitcoinAccountPath, []byte(DemoMessage), sig))
	assert.False(t, f.btc.VerifyMessage(ctx, signer, "84'", []byte(DemoMessage), sig))
}

func TestSignatureEncodings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	ethSig, err := f.eth.SignMessage(ctx, f.eth.NewSigner(id), EthereumLeafPath, []byte(DemoMessage))
	require.NoError(t, err)
	raw, err := hexutil.Decode(ethSig)
	require.NoError(t, err)
	assert.Len(t, raw, 65)

	btcSig, err := f.btc.SignMessage(ctx, f.btc.NewSigner(id), BitcoinLeafPath, []byte(DemoMessage))
	require.NoError(t, err)
	assert.Len(t, btcSig, 128)

	solSig, err := f.sol.SignMessage(ctx, f.sol.NewSigner(id), SolanaLeafPath, []byte(DemoMessage))
	require.NoError(t, err)
	env, err := solchain.DecodeEnvelope(solSig)
	require.NoError(t, err)
	assert.Len(t, env.Signatures, 1)

	_, err = SolanaEncoder{Expected: []byte("other")}.Encode(solSig)
	assert.ErrorIs(t, err, solchain.ErrInvalidOffchainMessage)
}

func TestSignTypedData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	signer := f.eth.NewSigner(id)
	sig, err := f.eth.SignTypedData(ctx, signer, EthereumLeafPath)
	require.NoError(t, err)
	assert.True(t, f.eth.VerifyTypedData(ctx, signer, EthereumLeafPath, sig))
	assert.False(t, f.eth.VerifyTypedData(ctx, signer, EthereumLeafPath, ""))
}

func TestSignTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	ethTx, err := f.eth.SignTransaction(ctx, f.eth.NewSigner(id), EthereumLeafPath)
	require.NoError(t, err)
	raw, err := hexutil.Decode(ethTx)
	require.NoError(t, err)
	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(raw))
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), sender)

	btcTx, err := f.btc.SignTransaction(ctx, f.btc.NewSigner(id), BitcoinAccountPath)
	require.NoError(t, err)
	assert.NotEmpty(t, btcTx)

	solTx, err := f.sol.SignTransaction(ctx, f.sol.NewSigner(id), SolanaLeafPath)
	require.NoError(t, err)
	decoded, err := sol.TransactionFromBase64(solTx)
	require.NoError(t, err)
	require.NoError(t, decoded.VerifySignatures())
}

func TestSignTransactionWithoutBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	eth := NewEthereumService(f.env.Manager, nil)
	_, err = eth.SignTransaction(ctx, eth.NewSigner(id), EthereumLeafPath)
	assert.ErrorIs(t, err, errno.ErrChainBackend)
}

func TestRejectedOnDevice(t *testing.T) {
	f := newFixture(t, emulator.WithApprover(dmktest.OnlyOpenApps))
	ctx := context.Background()
	id, err := f.conn.Connect(ctx)
	require.NoError(t, err)

	_, err = f.eth.SignMessage(ctx, f.eth.NewSigner(id), EthereumLeafPath, []byte(DemoMessage))
	assert.ErrorIs(t, err, errno.ErrDeniedByUser)
	assert.False(t, IsDeviceError(err))
}
