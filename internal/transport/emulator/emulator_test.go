package emulator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	solchain "signer-core/internal/chain/solana"
	"signer-core/internal/dmk"
	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"
	"signer-core/pkg/bip39"
	"signer-core/pkg/crypto_util"
	"signer-core/pkg/keystore"
	"signer-core/pkg/slip10"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestDevice(t *testing.T, opts ...DeviceOption) *Device {
	t.Helper()
	d, err := NewDeviceFromMnemonic(testMnemonic, "", opts...)
	require.NoError(t, err)
	return d
}

func send(t *testing.T, d *Device, cmd apdu.Command) apdu.Response {
	t.Helper()
	raw, err := cmd.Bytes()
	require.NoError(t, err)
	resp, err := apdu.ParseResponse(d.Exchange(raw))
	require.NoError(t, err)
	return resp
}

func openApp(t *testing.T, d *Device, name string) {
	t.Helper()
	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0xd8, Data: []byte(name)})
	require.NoError(t, resp.Err())
	require.Equal(t, name, d.CurrentApp())
}

// chunked 按首块 P1=00 后续 P1=80 发送，返回最后一块的应答
func chunked(t *testing.T, d *Device, cla, ins byte, payload []byte) apdu.Response {
	t.Helper()
	var resp apdu.Response
	for i, c := range apdu.Chunk(payload, apdu.MaxDataLength) {
		p1 := byte(0x00)
		if i > 0 {
			p1 = 0x80
		}
		resp = send(t, d, apdu.Command{CLA: cla, INS: ins, P1: p1, Data: c})
		require.NoError(t, resp.Err())
	}
	return resp
}

func TestDashboard(t *testing.T) {
	d := newTestDevice(t)

	resp := send(t, d, apdu.Command{CLA: 0xb0, INS: 0x01})
	require.NoError(t, resp.Err())
	app, err := dmk.GetAppAndVersionCommand{}.Parse(resp)
	require.NoError(t, err)
	assert.Equal(t, dmk.DashboardAppName, app.Name)

	// 未打开 App 时应用指令不可用
	resp = send(t, d, apdu.Command{CLA: 0xe0, INS: 0x02, Data: apdu.EncodePath(bip32.MustParsePath("m/44'/60'/0'/0/0"))})
	assert.Equal(t, apdu.SwClaNotSupported, resp.StatusWord)

	resp = send(t, d, apdu.Command{CLA: 0xe0, INS: 0xd8, Data: []byte("Cardano")})
	assert.Equal(t, apdu.SwAppNotFound, resp.StatusWord)

	openApp(t, d, "Ethereum")
	app, err = dmk.GetAppAndVersionCommand{}.Parse(send(t, d, apdu.Command{CLA: 0xb0, INS: 0x01}))
	require.NoError(t, err)
	assert.Equal(t, "Ethereum", app.Name)

	require.NoError(t, send(t, d, apdu.Command{CLA: 0xb0, INS: 0xa7}).Err())
	assert.Equal(t, dmk.DashboardAppName, d.CurrentApp())
}

func TestLockedDevice(t *testing.T) {
	d := newTestDevice(t)
	d.Lock()
	assert.Equal(t, apdu.SwDeviceLocked, send(t, d, apdu.Command{CLA: 0xb0, INS: 0x01}).StatusWord)
	d.Unlock()
	assert.NoError(t, send(t, d, apdu.Command{CLA: 0xb0, INS: 0x01}).Err())
}

func TestOpenAppRejected(t *testing.T) {
	d := newTestDevice(t, WithApprover(RejectAll))
	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0xd8, Data: []byte("Bitcoin")})
	assert.Equal(t, apdu.SwDeniedByUser, resp.StatusWord)
	assert.Equal(t, dmk.DashboardAppName, d.CurrentApp())
}

func TestEthereumAddress(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Ethereum")

	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0x02, Data: apdu.EncodePath(bip32.MustParsePath("m/44'/60'/0'/0/0"))})
	require.NoError(t, resp.Err())
	require.Equal(t, byte(65), resp.Data[0])
	addr := string(resp.Data[67 : 67+int(resp.Data[66])])
	assert.Equal(t, strings.ToLower("9858EfFD232B4033E47d90003D41EC34EcaEda94"), addr)
}

func TestEthereumPersonalSign(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Ethereum")

	msg := []byte(strings.Repeat("hello world ", 40))
	payload := apdu.EncodePath(bip32.MustParsePath("m/44'/60'/0'/0/0"))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(msg)))
	payload = append(payload, msg...)

	resp := chunked(t, d, 0xe0, 0x08, payload)
	require.Len(t, resp.Data, 65)

	sig := append(append([]byte{}, resp.Data[1:65]...), resp.Data[0]-27)
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), crypto.PubkeyToAddress(*pub))
}

func TestEthereumPersonalSignRejected(t *testing.T) {
	d := newTestDevice(t, WithApprover(func(r ApprovalRequest) bool { return r.Operation == "open_app" }))
	openApp(t, d, "Ethereum")

	payload := apdu.EncodePath(bip32.MustParsePath("m/44'/60'/0'/0/0"))
	payload = binary.BigEndian.AppendUint32(payload, 11)
	payload = append(payload, "hello world"...)
	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0x08, Data: payload})
	assert.Equal(t, apdu.SwDeniedByUser, resp.StatusWord)
}

func TestEthereumContinuationWithoutFirstChunk(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Ethereum")
	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0x04, P1: 0x80, Data: []byte{0x01}})
	assert.Equal(t, apdu.SwConditionsNotMet, resp.StatusWord)
}

func TestBitcoinKeys(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Bitcoin")

	resp := send(t, d, apdu.Command{CLA: 0xe1, INS: 0x05})
	require.NoError(t, resp.Err())
	assert.Equal(t, "73c5da0a", hex.EncodeToString(resp.Data))

	data := append([]byte{0x00}, apdu.EncodePath(bip32.MustParsePath("m/84'/0'/0'"))...)
	resp = send(t, d, apdu.Command{CLA: 0xe1, INS: 0x00, Data: data})
	require.NoError(t, resp.Err())

	account, err := bip32.ParseExtendedKey(string(resp.Data), nil)
	require.NoError(t, err)
	assert.False(t, account.IsPrivate())
	leaf, err := account.DerivePath([]uint32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", leaf.Address())
}

func TestBitcoinSignMessage(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Bitcoin")

	path := bip32.MustParsePath("m/84'/0'/0'/0/0")
	msg := []byte("hello world")
	payload := apdu.EncodePath(path)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(msg)))
	payload = append(payload, msg...)

	resp := chunked(t, d, 0xe1, 0x10, payload)
	require.Len(t, resp.Data, 65)

	pub, compressed, err := ecdsa.RecoverCompact(resp.Data, crypto_util.BitcoinMessageHash(msg))
	require.NoError(t, err)
	assert.True(t, compressed)

	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	w, err := bip32.NewMasterKeyFromSeed(seed, nil)
	require.NoError(t, err)
	leaf, err := w.DerivePath("m/84'/0'/0'/0/0")
	require.NoError(t, err)
	want, err := leaf.ECPubKey()
	require.NoError(t, err)
	assert.True(t, want.IsEqual(pub))
}

func TestSolanaOffchainSign(t *testing.T) {
	d := newTestDevice(t)
	openApp(t, d, "Solana")

	path := bip32.MustParsePath("m/44'/501'/0'/0'")
	resp := send(t, d, apdu.Command{CLA: 0xe0, INS: 0x05, Data: apdu.EncodePath(path)})
	require.NoError(t, resp.Err())
	pub := resp.Data

	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	master, err := slip10.NewMasterKey(seed)
	require.NoError(t, err)
	assert.Equal(t, []byte(master.DerivePath(path).PublicKey()), pub)

	msg, err := solchain.NewOffchainMessage([]byte("hello world"))
	require.NoError(t, err)
	offchain, err := msg.Serialize()
	require.NoError(t, err)

	data := append([]byte{0x01}, apdu.EncodePath(path)...)
	data = append(data, offchain...)
	resp = send(t, d, apdu.Command{CLA: 0xe0, INS: 0x07, P1: 0x01, Data: data})
	require.NoError(t, resp.Err())
	assert.True(t, crypto_util.Ed25519Verify(pub, offchain, resp.Data))

	// 非法的链下消息头被拒绝
	bad := append([]byte{0x01}, apdu.EncodePath(path)...)
	bad = append(bad, []byte("hello world")...)
	resp = send(t, d, apdu.Command{CLA: 0xe0, INS: 0x07, P1: 0x01, Data: bad})
	assert.Equal(t, apdu.SwInvalidData, resp.StatusWord)
}

func TestDeviceFromKeystore(t *testing.T) {
	keystore.ScryptN = 1 << 10
	ks, err := keystore.EncryptMnemonic(testMnemonic, "pw", "Desk Ledger")
	require.NoError(t, err)
	path := t.TempDir() + "/seed.json"
	require.NoError(t, ks.SaveToFile(path))

	d, err := NewDeviceFromKeystore(path, "pw")
	require.NoError(t, err)
	assert.Equal(t, "Desk Ledger", d.Name)

	_, err = NewDeviceFromKeystore(path, "wrong")
	assert.ErrorIs(t, err, keystore.ErrMACMismatch)
}

func TestTransport(t *testing.T) {
	tr := NewTransport()
	id, err := tr.Plug(newTestDevice(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "EMU-"))

	devices, err := tr.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, Identifier, devices[0].Transport)

	ch, err := tr.Open(context.Background(), devices[0])
	require.NoError(t, err)
	reply, err := ch.Exchange(context.Background(), []byte{0xb0, 0x01, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, reply[len(reply)-2:])

	tr.Unplug(id)
	_, err = ch.Exchange(context.Background(), []byte{0xb0, 0x01, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	require.NoError(t, ch.Close())
	_, err = ch.Exchange(context.Background(), []byte{0xb0, 0x01, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrChannelClosed)
}
