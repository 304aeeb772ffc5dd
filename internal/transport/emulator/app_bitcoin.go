package emulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"
	"signer-core/pkg/crypto_util"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	btcCla byte = 0xe1

	btcInsGetExtendedPubkey byte = 0x00
	btcInsSignPsbt          byte = 0x04
	btcInsGetMasterFinger   byte = 0x05
	btcInsSignMessage       byte = 0x10

	btcSupportedTemplate = "wpkh(@0/**)"
	// 短 APDU 应答最多容纳两个输入的签名
	btcMaxSignaturesPerReply = 2
)

// bitcoinApp 比特币 App (简化的非 merkle 化协议)
type bitcoinApp struct {
	d *Device

	ins      byte
	path     []uint32
	template string
	buf      []byte
	wantLen  int
}

func newBitcoinApp(d *Device) *bitcoinApp {
	return &bitcoinApp{d: d}
}

func (a *bitcoinApp) name() string    { return "Bitcoin" }
func (a *bitcoinApp) version() string { return "2.2.2" }

func (a *bitcoinApp) reset() {
	a.ins, a.path, a.template, a.buf, a.wantLen = 0, nil, "", nil, 0
}

func (a *bitcoinApp) handle(cmd apdu.Command) apdu.Response {
	if cmd.CLA != btcCla {
		return status(apdu.SwClaNotSupported)
	}
	switch cmd.INS {
	case btcInsGetExtendedPubkey:
		return a.getExtendedPubkey(cmd)
	case btcInsGetMasterFinger:
		return a.masterFingerprint()
	case btcInsSignMessage:
		return a.signMessage(cmd)
	case btcInsSignPsbt:
		return a.signPsbt(cmd)
	default:
		return status(apdu.SwInsNotSupported)
	}
}

// getExtendedPubkey display(1) | path => xpub (ascii)
func (a *bitcoinApp) getExtendedPubkey(cmd apdu.Command) apdu.Response {
	if len(cmd.Data) < 1 {
		return status(apdu.SwWrongLength)
	}
	path, _, err := apdu.DecodePath(cmd.Data[1:])
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	key, err := a.d.wallet.MasterKey().DerivePath(path)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	pub, err := key.Neuter()
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	xpub := pub.String()
	if cmd.Data[0] == 0x01 && !a.d.approve(a.name(), "verify_xpub", "m/"+bip32.FormatPath(path)+" "+xpub) {
		return status(apdu.SwDeniedByUser)
	}
	return ok([]byte(xpub))
}

func (a *bitcoinApp) masterFingerprint() apdu.Response {
	fp, err := a.d.wallet.MasterFingerprint()
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	return ok(binary.BigEndian.AppendUint32(nil, fp))
}

// collect 与以太坊 App 相同的分块约定，返回首块中路径之后的数据
func (a *bitcoinApp) collect(cmd apdu.Command) (first bool, rest []byte, resp *apdu.Response) {
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

// signMessage path | u32 msgLen | msg...  => header | r | s
func (a *bitcoinApp) signMessage(cmd apdu.Command) apdu.Response {
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
	msg, path := a.buf, a.path
	a.reset()

	if !a.d.approve(a.name(), "sign_message", string(msg)) {
		return status(apdu.SwDeniedByUser)
	}
	key, err := a.d.wallet.MasterKey().DerivePath(path)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	sig, err := crypto_util.Secp256k1SignCompact(priv, crypto_util.BitcoinMessageHash(msg))
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	return ok(sig)
}

// signPsbt 首块: accountPath | templateLen | template | u32 psbtLen | psbt...
// 应答: count | (inputIndex | pkLen | pk | sigLen | der+sighash)*
func (a *bitcoinApp) signPsbt(cmd apdu.Command) apdu.Response {
	first, data, errResp := a.collect(cmd)
	if errResp != nil {
		return *errResp
	}
	if first {
		if len(data) < 1 || len(data) < 1+int(data[0])+4 {
			a.reset()
			return status(apdu.SwInvalidData)
		}
		n := int(data[0])
		a.template = string(data[1 : 1+n])
		data = data[1+n:]
		a.wantLen = int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if a.template != btcSupportedTemplate {
			a.reset()
			return status(apdu.SwInvalidData)
		}
	}
	a.buf = append(a.buf, data...)
	if len(a.buf) < a.wantLen {
		return ok(nil)
	}
	if len(a.buf) > a.wantLen {
		a.reset()
		return status(apdu.SwInvalidData)
	}
	raw, account := a.buf, a.path
	a.reset()

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	summary, err := describePsbt(packet)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	if !a.d.approve(a.name(), "sign_psbt", summary) {
		return status(apdu.SwDeniedByUser)
	}

	out, err := a.signInputs(packet, account)
	if err != nil {
		return status(apdu.SwInvalidData)
	}
	return ok(out)
}

func (a *bitcoinApp) signInputs(packet *psbt.Packet, account []uint32) ([]byte, error) {
	tx := packet.UnsignedTx
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, fmt.Errorf("input %d lacks witness utxo", i)
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, in.WitnessUtxo)
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	fp, err := a.d.wallet.MasterFingerprint()
	if err != nil {
		return nil, err
	}
	psbtFp := binary.LittleEndian.Uint32(binary.BigEndian.AppendUint32(nil, fp))

	out := []byte{0}
	for i, in := range packet.Inputs {
		if !txscript.IsPayToWitnessPubKeyHash(in.WitnessUtxo.PkScript) {
			continue
		}
		for _, d := range in.Bip32Derivation {
			if d.MasterKeyFingerprint != psbtFp || !bip32.HasPrefix(d.Bip32Path, account) {
				continue
			}
			key, err := a.d.wallet.MasterKey().DerivePath(d.Bip32Path)
			if err != nil {
				return nil, err
			}
			priv, err := key.ECPrivKey()
			if err != nil {
				return nil, err
			}
			pub := priv.PubKey().SerializeCompressed()
			if !bytes.Equal(pub, d.PubKey) || !bytes.Equal(btcutil.Hash160(pub), in.WitnessUtxo.PkScript[2:]) {
				continue
			}
			sig, err := txscript.RawTxInWitnessSignature(tx, hashes, i, in.WitnessUtxo.Value,
				in.WitnessUtxo.PkScript, txscript.SigHashAll, priv)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(i), byte(len(pub)))
			out = append(out, pub...)
			out = append(out, byte(len(sig)))
			out = append(out, sig...)
			out[0]++
			break
		}
		if out[0] == btcMaxSignaturesPerReply {
			break
		}
	}
	if out[0] == 0 {
		return nil, fmt.Errorf("no input owned by this device")
	}
	return out, nil
}

// describePsbt 显示在屏幕上的交易摘要: 每个输出的地址与金额，以及手续费
func describePsbt(packet *psbt.Packet) (string, error) {
	var lines []string
	for _, o := range packet.UnsignedTx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(o.PkScript, &chaincfg.MainNetParams)
		dest := "unknown"
		if err == nil && len(addrs) == 1 {
			dest = addrs[0].EncodeAddress()
		}
		lines = append(lines, fmt.Sprintf("%s -> %s", btcutil.Amount(o.Value), dest))
	}
	fee, err := packet.GetTxFee()
	if err != nil {
		return "", err
	}
	lines = append(lines, "fee "+fee.String())
	return strings.Join(lines, "; "), nil
}
