package emulator

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"signer-core/pkg/address"
	"signer-core/pkg/apdu"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	ethInsGetAddress   byte = 0x02
	ethInsSignTx       byte = 0x04
	ethInsGetConfig    byte = 0x06
	ethInsSignPersonal byte = 0x08
	ethInsSignEIP712   byte = 0x0c

	p1First byte = 0x00
	p1More  byte = 0x80
)

// ethereumApp 以太坊 App: 地址、交易、personal_sign、EIP-712 (hashed 模式)
type ethereumApp struct {
	d *Device

	ins     byte
	path    []uint32
	buf     []byte
	wantLen int
}

func newEthereumApp(d *Device) *ethereumApp {
	return &ethereumApp{d: d}
}

func (a *ethereumApp) name() string    { return "Ethereum" }
func (a *ethereumApp) version() string { return "1.10.4" }

func (a *ethereumApp) reset() {
	a.ins, a.path, a.buf, a.wantLen = 0, nil, nil, 0
}

func (a *ethereumApp) handle(cmd apdu.Command) apdu.Response {
	if cmd.CLA != 0xe0 {
		return status(apdu.SwClaNotSupported)
	}
	switch cmd.INS {
	case ethInsGetAddress:
		return a.getAddress(cmd)
	case ethInsGetConfig:
		// flags | major | minor | patch
		return ok([]byte{0x01, 1, 10, 4})
	case ethInsSignTx:
		return a.signTx(cmd)
	case ethInsSignPersonal:
		return a.signPersonal(cmd)
	case ethInsSignEIP712:
		return a.signEIP712(cmd)
	default:
		return status(apdu.SwInsNotSupported)
	}
}

// getAddress pkLen | pk(65) | addrLen | addr (40 hex ascii) [| chainCode]
func (a *ethereumApp) getAddress(cmd apdu.Command) apdu.Response {
	path, _, err := apdu.DecodePath(cmd.Data)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	key, err := a.d.wallet.MasterKey().DerivePath(path)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	pk := pub.SerializeUncompressed()
	addrHex, err := address.NewETHGenerator().AddressHex(pk)
	if err != nil {
		return status(apdu.SwInvalidData)
	}

	if cmd.P1 == 0x01 && !a.d.approve(a.name(), "verify_address", "0x"+addrHex) {
		return status(apdu.SwDeniedByUser)
	}

	out := []byte{byte(len(pk))}
	out = append(out, pk...)
	out = append(out, byte(len(addrHex)))
	out = append(out, addrHex...)
	return ok(out)
}

// collect 处理分块: 首块 P1=00 携带路径，后续块 P1=80
func (a *ethereumApp) collect(cmd apdu.Command) (first bool, rest []byte, resp *apdu.Response) {
	switch cmd.P1 {
	case p1First:
		a.reset()
		path, rest, err := apdu.DecodePath(cmd.Data)
		if err != nil {
			r := status(apdu.SwInvalidData)
			return true, nil, &r
		}
		a.ins, a.path = cmd.INS, path
		return true, rest, nil
	case p1More:
		if a.ins != cmd.INS || a.path == nil {
			r := status(apdu.SwConditionsNotMet)
			return false, nil, &r
		}
		return false, cmd.Data, nil
	default:
		r := status(apdu.SwWrongP1P2)
		return false, nil, &r
	}
}

func (a *ethereumApp) signTx(cmd apdu.Command) apdu.Response {
	_, data, errResp := a.collect(cmd)
	if errResp != nil {
		return *errResp
	}
	a.buf = append(a.buf, data...)

	total, known := txPayloadLength(a.buf)
	if !known || len(a.buf) < total {
		return ok(nil)
	}
	if len(a.buf) > total {
		a.reset()
		return status(apdu.SwInvalidData)
	}
	payload := a.buf
	path := a.path
	a.reset()

	summary, err := describeTx(payload)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	if !a.d.approve(a.name(), "sign_transaction", summary) {
		return status(apdu.SwDeniedByUser)
	}

	sig, err := a.sign(path, crypto.Keccak256(payload))
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	// typed 交易 v 为 recovery id (0/1)，legacy 为 27/28
	v := sig[64]
	if payload[0] >= 0xc0 {
		v += 27
	}
	return ok(vrs(v, sig))
}

func (a *ethereumApp) signPersonal(cmd apdu.Command) apdu.Response {
	first, data, errResp := a.collect(cmd)
	if errResp != nil {
		return *errResp
	}
	if first {
		if len(data) < 4 {
			a.reset()
			return status(apdu.SwInvalidData)
		}
		a.wantLen = int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
	}
	a.buf = append(a.buf, data...)
	if len(a.buf) < a.wantLen {
		return ok(nil)
	}
	if len(a.buf) > a.wantLen {
		a.reset()
		return status(apdu.SwInvalidData)
	}
	msg := a.buf
	path := a.path
	a.reset()

	if !a.d.approve(a.name(), "sign_personal_message", string(msg)) {
		return status(apdu.SwDeniedByUser)
	}
	sig, err := a.sign(path, accounts.TextHash(msg))
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	return ok(vrs(sig[64]+27, sig))
}

// signEIP712 path | domainSeparator(32) | messageHash(32)
func (a *ethereumApp) signEIP712(cmd apdu.Command) apdu.Response {
	if cmd.P1 != 0x00 || cmd.P2 != 0x00 {
		return status(apdu.SwWrongP1P2)
	}
	path, rest, err := apdu.DecodePath(cmd.Data)
	if err != nil || len(rest) != 64 {
		return status(apdu.SwInvalidData)
	}
	domainSeparator, messageHash := rest[:32], rest[32:]

	summary := fmt.Sprintf("domain %s message %s", hex.EncodeToString(domainSeparator), hex.EncodeToString(messageHash))
	if !a.d.approve(a.name(), "sign_typed_data", summary) {
		return status(apdu.SwDeniedByUser)
	}
	digest := crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, messageHash)
	sig, err := a.sign(path, digest)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	return ok(vrs(sig[64]+27, sig))
}

// sign 返回 r || s || recid
func (a *ethereumApp) sign(path []uint32, hash []byte) ([]byte, error) {
	key, err := a.d.wallet.MasterKey().DerivePath(path)
	if err != nil {
		return nil, err
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	ecdsaKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, err
	}
	return crypto.Sign(hash, ecdsaKey)
}

func vrs(v byte, sig []byte) []byte {
	out := make([]byte, 0, 65)
	out = append(out, v)
	return append(out, sig[:64]...)
}

// txPayloadLength 由 RLP 列表头推算完整交易长度，数据不足以判断时 known=false
func txPayloadLength(b []byte) (total int, known bool) {
	offset := 0
	if len(b) > 0 && b[0] < 0x7f {
		// EIP-2718 类型字节
		offset = 1
	}
	if len(b) <= offset {
		return 0, false
	}
	prefix := b[offset]
	switch {
	case prefix >= 0xc0 && prefix <= 0xf7:
		return offset + 1 + int(prefix-0xc0), true
	case prefix > 0xf7:
		n := int(prefix - 0xf7)
		if len(b) < offset+1+n {
			return 0, false
		}
		size := 0
		for _, c := range b[offset+1 : offset+1+n] {
			size = size<<8 | int(c)
		}
		return offset + 1 + n + size, true
	default:
		return len(b), true
	}
}

// unsignedDynamicFeeTx EIP-1559 交易的待签名字段
type unsignedDynamicFeeTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address `rlp:"nil"`
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// describeTx 解析交易用于屏幕显示
func describeTx(payload []byte) (string, error) {
	if payload[0] >= 0xc0 {
		var fields []interface{}
		if err := rlp.DecodeBytes(payload, &fields); err != nil {
			return "", err
		}
		return fmt.Sprintf("legacy tx with %d fields", len(fields)), nil
	}
	if payload[0] != types.DynamicFeeTxType {
		var fields []interface{}
		if err := rlp.DecodeBytes(payload[1:], &fields); err != nil {
			return "", err
		}
		return fmt.Sprintf("type %d tx", payload[0]), nil
	}

	var tx unsignedDynamicFeeTx
	if err := rlp.DecodeBytes(payload[1:], &tx); err != nil {
		return "", err
	}
	to := "contract creation"
	if tx.To != nil {
		to = tx.To.Hex()
	}
	return fmt.Sprintf("chain %s nonce %d send %s wei to %s max fee %s", tx.ChainID, tx.Nonce, tx.Value, to, tx.GasFeeCap), nil
}
