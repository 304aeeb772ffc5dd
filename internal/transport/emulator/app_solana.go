package emulator

import (
	"bytes"
	"fmt"

	solchain "signer-core/internal/chain/solana"
	"signer-core/pkg/address"
	"signer-core/pkg/apdu"
	"signer-core/pkg/crypto_util"
)

const (
	solInsGetConfig    byte = 0x04
	solInsGetPubkey    byte = 0x05
	solInsSignTx       byte = 0x06
	solInsSignOffchain byte = 0x07

	solP2Extend byte = 0x01
	solP2More   byte = 0x02
)

// solanaApp Solana App: 公钥、交易消息、链下消息
type solanaApp struct {
	d *Device

	ins  byte
	path []uint32
	buf  []byte
}

func newSolanaApp(d *Device) *solanaApp {
	return &solanaApp{d: d}
}

func (a *solanaApp) name() string    { return "Solana" }
func (a *solanaApp) version() string { return "1.4.1" }

func (a *solanaApp) reset() {
	a.ins, a.path, a.buf = 0, nil, nil
}

func (a *solanaApp) handle(cmd apdu.Command) apdu.Response {
	if cmd.CLA != 0xe0 {
		return status(apdu.SwClaNotSupported)
	}
	switch cmd.INS {
	case solInsGetConfig:
		// blindSigning | pubkeyDisplay | major | minor | patch
		return ok([]byte{0x00, 0x00, 1, 4, 1})
	case solInsGetPubkey:
		return a.getPubkey(cmd)
	case solInsSignTx, solInsSignOffchain:
		return a.sign(cmd)
	default:
		return status(apdu.SwInsNotSupported)
	}
}

func (a *solanaApp) getPubkey(cmd apdu.Command) apdu.Response {
	path, _, err := apdu.DecodePath(cmd.Data)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	pub := a.d.edMaster.DerivePath(path).PublicKey()
	if cmd.P1 == 0x01 {
		addr, _ := address.NewSOLGenerator().PubKeyToAddress(pub)
		if !a.d.approve(a.name(), "verify_address", addr) {
			return status(apdu.SwDeniedByUser)
		}
	}
	return ok(pub)
}

// sign 首块: signerCount(1) | path | message...; 后续块带 P2_EXTEND，最后一块不带 P2_MORE
func (a *solanaApp) sign(cmd apdu.Command) apdu.Response {
	if cmd.P2&solP2Extend == 0 {
		a.reset()
		if len(cmd.Data) < 1 || cmd.Data[0] != 1 {
			return status(apdu.SwInvalidData)
		}
		path, rest, err := apdu.DecodePath(cmd.Data[1:])
		if err != nil {
			return status(apdu.SwInvalidData)
		}
		a.ins, a.path = cmd.INS, path
		a.buf = append(a.buf, rest...)
	} else {
		if a.ins != cmd.INS || a.path == nil {
			return status(apdu.SwConditionsNotMet)
		}
		a.buf = append(a.buf, cmd.Data...)
	}
	if cmd.P2&solP2More != 0 {
		return ok(nil)
	}

	msg, path, ins := a.buf, a.path, a.ins
	a.reset()

	key := a.d.edMaster.DerivePath(path)
	var (
		op, summary string
		err         error
	)
	if ins == solInsSignOffchain {
		op = "sign_offchain_message"
		summary, err = describeOffchain(msg)
	} else {
		op = "sign_transaction"
		summary, err = describeSolanaMessage(msg, key.PublicKey())
	}
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	if !a.d.approve(a.name(), op, summary) {
		return status(apdu.SwDeniedByUser)
	}
	return ok(crypto_util.Ed25519Sign(key.PrivateKey(), msg))
}

func describeOffchain(data []byte) (string, error) {
	msg, err := solchain.DecodeOffchainMessage(data)
	if err != nil {
		return "", err
	}
	if len(data) > solchain.MaxLedgerOffchainLen+20 {
		return "", fmt.Errorf("offchain message too long for display")
	}
	return string(msg.Message), nil
}

// describeSolanaMessage 检查 legacy 消息头，付款账户必须是本设备的公钥
//
//	numRequiredSignatures | numReadonlySigned | numReadonlyUnsigned | compact-u16 n | keys(32)*n | ...
func describeSolanaMessage(msg []byte, pub []byte) (string, error) {
	if len(msg) < 4 || msg[0]&0x80 != 0 {
		return "", fmt.Errorf("unsupported solana message")
	}
	if msg[0] == 0 {
		return "", fmt.Errorf("message has no signer")
	}
	n, offset := int(msg[3]), 4
	if n&0x80 != 0 {
		if len(msg) < 5 {
			return "", fmt.Errorf("truncated account count")
		}
		n = n&0x7f | int(msg[4])<<7
		offset = 5
	}
	if n == 0 || len(msg) < offset+32*n {
		return "", fmt.Errorf("truncated account keys")
	}
	if !bytes.Equal(msg[offset:offset+32], pub) {
		return "", fmt.Errorf("fee payer is not the signing key")
	}
	payer, _ := address.NewSOLGenerator().PubKeyToAddress(pub)
	return fmt.Sprintf("fee payer %s, %d accounts", payer, n), nil
}
