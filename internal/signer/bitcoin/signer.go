// Package bitcoin 比特币 App 的设备动作
package bitcoin

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"signer-core/internal/dmk"
	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

const (
	AppName = "Bitcoin"

	cla                  byte = 0xe1
	insGetExtendedPubkey byte = 0x00
	insSignPsbt          byte = 0x04
	insGetMasterFinger   byte = 0x05
	insSignMessage       byte = 0x10

	// DefaultTemplate 单签原生隔离见证账户
	DefaultTemplate = "wpkh(@0/**)"
)

var ErrInvalidSignature = errors.New("device returned a malformed signature")

// Signature 消息签名: V 为 header 字节 (27 + 4 + recid)
type Signature struct {
	R []byte
	S []byte
	V byte
}

// Compact header || r || s
func (s Signature) Compact() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.V)
	out = append(out, s.R...)
	return append(out, s.S...)
}

// Wallet 钱包策略: 账户路径 + 描述符模板
type Wallet struct {
	AccountPath string
	Template    string
}

// DefaultWallet 使用 wpkh 模板的单签钱包
func DefaultWallet(accountPath string) Wallet {
	return Wallet{AccountPath: accountPath, Template: DefaultTemplate}
}

// PartialSignature 设备对某个输入给出的签名 (DER + sighash 字节)
type PartialSignature struct {
	InputIndex int
	PubKey     []byte
	Signature  []byte
}

// Signer 绑定到一个设备会话的比特币签名器
type Signer struct {
	manager *dmk.Manager
	session dmk.SessionID
}

func NewSigner(m *dmk.Manager, session dmk.SessionID) *Signer {
	return &Signer{manager: m, session: session}
}

// Session 签名器绑定的会话
func (s *Signer) Session() dmk.SessionID {
	return s.session
}

// GetExtendedPublicKey 返回路径上的 xpub
func (s *Signer) GetExtendedPublicKey(ctx context.Context, path string, checkOnDevice bool) *dmk.DeviceAction[string] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[string](err)
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (string, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return "", err
			}
			if checkOnDevice {
				notify(dmk.InteractionVerifyAddress)
			}
			return dmk.RunCommand(ctx, ex, getExtendedPubkeyCommand{path: indices, display: checkOnDevice}).Unwrap()
		})
}

// GetMasterFingerprint 主密钥指纹 (4 字节)
func (s *Signer) GetMasterFingerprint(ctx context.Context) *dmk.DeviceAction[[]byte] {
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) ([]byte, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return nil, err
			}
			return dmk.RunCommand(ctx, ex, masterFingerprintCommand{}).Unwrap()
		})
}

// SignMessage BIP-137 风格的消息签名
func (s *Signer) SignMessage(ctx context.Context, path string, message []byte) *dmk.DeviceAction[Signature] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[Signature](err)
	}
	payload := apdu.EncodePath(indices)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(message)))
	payload = append(payload, message...)

	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (Signature, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return Signature{}, err
			}
			notify(dmk.InteractionSignPersonalMessage)
			resp, err := dmk.SendChunked(ctx, ex, cla, insSignMessage, payload)
			if err != nil {
				return Signature{}, err
			}
			if len(resp.Data) != 65 {
				return Signature{}, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(resp.Data))
			}
			return Signature{
				V: resp.Data[0],
				R: append([]byte(nil), resp.Data[1:33]...),
				S: append([]byte(nil), resp.Data[33:65]...),
			}, nil
		})
}

// SignPsbt 设备对属于本钱包的输入签名，返回各输入的部分签名
func (s *Signer) SignPsbt(ctx context.Context, wallet Wallet, packet *psbt.Packet) *dmk.DeviceAction[[]PartialSignature] {
	payload, err := psbtPayload(wallet, packet)
	if err != nil {
		return dmk.Failed[[]PartialSignature](err)
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) ([]PartialSignature, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return nil, err
			}
			notify(dmk.InteractionSignTransaction)
			resp, err := dmk.SendChunked(ctx, ex, cla, insSignPsbt, payload)
			if err != nil {
				return nil, err
			}
			return parsePartialSignatures(resp.Data)
		})
}

// SignTransaction 签名 PSBT 并完成 finalize，返回可广播的交易
func (s *Signer) SignTransaction(ctx context.Context, wallet Wallet, packet *psbt.Packet) *dmk.DeviceAction[*wire.MsgTx] {
	payload, err := psbtPayload(wallet, packet)
	if err != nil {
		return dmk.Failed[*wire.MsgTx](err)
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (*wire.MsgTx, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return nil, err
			}
			notify(dmk.InteractionSignTransaction)
			resp, err := dmk.SendChunked(ctx, ex, cla, insSignPsbt, payload)
			if err != nil {
				return nil, err
			}
			sigs, err := parsePartialSignatures(resp.Data)
			if err != nil {
				return nil, err
			}
			return Finalize(packet, sigs)
		})
}

// Finalize 把部分签名写入 PSBT，finalize 后提取交易
func Finalize(packet *psbt.Packet, sigs []PartialSignature) (*wire.MsgTx, error) {
	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}
	for _, sig := range sigs {
		outcome, err := updater.Sign(sig.InputIndex, sig.Signature, sig.PubKey, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("add signature for input %d: %w", sig.InputIndex, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("add signature for input %d: outcome %d", sig.InputIndex, outcome)
		}
	}
	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("finalize psbt: %w", err)
	}
	return psbt.Extract(packet)
}

// psbtPayload accountPath | templateLen | template | u32 psbtLen | psbt
func psbtPayload(wallet Wallet, packet *psbt.Packet) ([]byte, error) {
	if packet == nil {
		return nil, errors.New("nil psbt")
	}
	indices, err := bip32.ParsePath(wallet.AccountPath)
	if err != nil {
		return nil, err
	}
	template := wallet.Template
	if template == "" {
		template = DefaultTemplate
	}
	if len(template) > 255 {
		return nil, errors.New("descriptor template too long")
	}
	var raw bytes.Buffer
	if err := packet.Serialize(&raw); err != nil {
		return nil, fmt.Errorf("serialize psbt: %w", err)
	}

	payload := apdu.EncodePath(indices)
	payload = append(payload, byte(len(template)))
	payload = append(payload, template...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(raw.Len()))
	return append(payload, raw.Bytes()...), nil
}

// parsePartialSignatures count | (index | pkLen | pk | sigLen | sig)*
func parsePartialSignatures(data []byte) ([]PartialSignature, error) {
	if len(data) < 1 {
		return nil, errors.New("empty psbt signature response")
	}
	count := int(data[0])
	data = data[1:]
	out := make([]PartialSignature, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 2 {
			return nil, errors.New("psbt signature response truncated")
		}
		index := int(data[0])
		pk, rest, err := readLV(data[1:])
		if err != nil {
			return nil, fmt.Errorf("pubkey of input %d: %w", index, err)
		}
		sig, rest, err := readLV(rest)
		if err != nil {
			return nil, fmt.Errorf("signature of input %d: %w", index, err)
		}
		out = append(out, PartialSignature{InputIndex: index, PubKey: pk, Signature: sig})
		data = rest
	}
	return out, nil
}

func readLV(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 || len(data) < 1+int(data[0]) {
		return nil, nil, errors.New("value truncated")
	}
	n := int(data[0])
	return append([]byte(nil), data[1:1+n]...), data[1+n:], nil
}

// getExtendedPubkeyCommand E1 00 00 00 <display> <path>
type getExtendedPubkeyCommand struct {
	path    []uint32
	display bool
}

func (c getExtendedPubkeyCommand) Apdu() (apdu.Command, error) {
	var display byte
	if c.display {
		display = 0x01
	}
	data := append([]byte{display}, apdu.EncodePath(c.path)...)
	return apdu.Command{CLA: cla, INS: insGetExtendedPubkey, Data: data}, nil
}

func (getExtendedPubkeyCommand) Parse(resp apdu.Response) (string, error) {
	if len(resp.Data) == 0 {
		return "", errors.New("empty xpub")
	}
	return string(resp.Data), nil
}

// masterFingerprintCommand E1 05 00 00
type masterFingerprintCommand struct{}

func (masterFingerprintCommand) Apdu() (apdu.Command, error) {
	return apdu.Command{CLA: cla, INS: insGetMasterFinger}, nil
}

func (masterFingerprintCommand) Parse(resp apdu.Response) ([]byte, error) {
	if len(resp.Data) != 4 {
		return nil, fmt.Errorf("fingerprint must be 4 bytes, got %d", len(resp.Data))
	}
	return append([]byte(nil), resp.Data...), nil
}
