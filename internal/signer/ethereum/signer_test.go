package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"

	ethchain "signer-core/internal/chain/ethereum"
	"signer-core/internal/dmk"
	"signer-core/internal/dmk/dmktest"
	"signer-core/internal/transport/emulator"
	"signer-core/pkg/apdu"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPath    = "44'/60'/0'/0/0"
	testAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func TestGetAddress(t *testing.T) {
	m, _, id := dmktest.Session(t)
	s := NewSigner(m, id)

	res, err := dmktest.Await(t, s.GetAddress(context.Background(), testPath, false))
	require.NoError(t, err)
	assert.Equal(t, testAddress, res.Address)
	assert.Len(t, res.PublicKey, 65)

	state, err := m.GetDeviceSessionState(id)
	require.NoError(t, err)
	assert.Equal(t, AppName, state.AppName)
}

func TestGetAddressObservesInteractions(t *testing.T) {
	m, _, id := dmktest.Session(t)
	action := NewSigner(m, id).GetAddress(context.Background(), testPath, true)

	var seen []dmk.UserInteraction
	var last dmk.DeviceActionState[AddressResult]
	for st := range action.Observe() {
		if st.Status == dmk.ActionPending {
			seen = append(seen, st.Interaction)
		}
		last = st
	}
	require.Equal(t, dmk.ActionCompleted, last.Status)
	assert.Contains(t, seen, dmk.InteractionConfirmOpenApp)
	assert.Contains(t, seen, dmk.InteractionVerifyAddress)
}

func TestGetAddressInvalidPath(t *testing.T) {
	m, _, id := dmktest.Session(t)
	_, err := dmktest.Await(t, NewSigner(m, id).GetAddress(context.Background(), "44'/x", false))
	assert.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	m, _, id := dmktest.Session(t)
	s := NewSigner(m, id)

	tests := []struct {
		name    string
		message []byte
	}{
		{"short", []byte("hello world")},
		{"multi chunk", []byte(strings.Repeat("ledger ", 100))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := dmktest.Await(t, s.SignMessage(context.Background(), testPath, tt.message))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, sig.V, byte(27))
			assert.True(t, ethchain.VerifyPersonalMessage(testAddress, tt.message, sig.Bytes()))
		})
	}
}

func TestSignMessageRejected(t *testing.T) {
	m, _, id := dmktest.Session(t, emulator.WithApprover(dmktest.OnlyOpenApps))
	_, err := dmktest.Await(t, NewSigner(m, id).SignMessage(context.Background(), testPath, []byte("hello")))
	assert.True(t, apdu.IsStatus(err, apdu.SwDeniedByUser))
}

func TestSignTypedData(t *testing.T) {
	m, _, id := dmktest.Session(t)
	td := ethchain.DemoTypedData(ethchain.SepoliaChainID)

	sig, err := dmktest.Await(t, NewSigner(m, id).SignTypedData(context.Background(), testPath, td))
	require.NoError(t, err)
	assert.True(t, ethchain.VerifyTypedData(testAddress, td, sig.Bytes()))
}

func TestSignTransaction(t *testing.T) {
	m, _, id := dmktest.Session(t)
	from := common.HexToAddress(testAddress)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(ethchain.SepoliaChainID),
		Nonce:     3,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        &from,
		Value:     big.NewInt(100_000_000_000_000),
	})
	payload, err := ethchain.UnsignedPayload(tx)
	require.NoError(t, err)

	sig, err := dmktest.Await(t, NewSigner(m, id).SignTransaction(context.Background(), testPath, payload))
	require.NoError(t, err)
	assert.LessOrEqual(t, sig.V, byte(1))

	signed, err := ethchain.AttachSignature(tx, sig.Bytes())
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(signed.ChainId()), signed)
	require.NoError(t, err)
	assert.Equal(t, from, sender)
}

func TestSignTransactionEmpty(t *testing.T) {
	m, _, id := dmktest.Session(t)
	_, err := dmktest.Await(t, NewSigner(m, id).SignTransaction(context.Background(), testPath, nil))
	assert.Error(t, err)
}

func TestLockedDevice(t *testing.T) {
	m, dev, id := dmktest.Session(t)
	dev.Lock()
	_, err := dmktest.Await(t, NewSigner(m, id).GetAddress(context.Background(), testPath, false))
	assert.True(t, apdu.IsStatus(err, apdu.SwDeviceLocked))
}
