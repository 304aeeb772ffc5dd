// Package ethereum 以太坊 App 的设备动作: 地址、personal_sign、EIP-712、交易签名
package ethereum

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"signer-core/internal/dmk"
	"signer-core/pkg/address"
	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	AppName = "Ethereum"

	cla            byte = 0xe0
	insGetAddress  byte = 0x02
	insSignTx      byte = 0x04
	insSignMessage byte = 0x08
	insSignEIP712  byte = 0x0c
)

var ErrInvalidSignature = errors.New("device returned a malformed signature")

// Signature 设备返回的 ECDSA 签名分量
type Signature struct {
	R []byte
	S []byte
	V byte
}

// Bytes r || s || v
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.R...)
	out = append(out, s.S...)
	return append(out, s.V)
}

// AddressResult GET_ADDRESS 的结果
type AddressResult struct {
	PublicKey []byte
	Address   string
}

// Signer 绑定到一个设备会话的以太坊签名器
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

// GetAddress 读取路径上的地址，checkOnDevice 时需要用户在屏幕上核对
func (s *Signer) GetAddress(ctx context.Context, path string, checkOnDevice bool) *dmk.DeviceAction[AddressResult] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[AddressResult](err)
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (AddressResult, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return AddressResult{}, err
			}
			if checkOnDevice {
				notify(dmk.InteractionVerifyAddress)
			}
			return dmk.RunCommand(ctx, ex, getAddressCommand{path: indices, display: checkOnDevice}).Unwrap()
		})
}

// SignMessage EIP-191 personal_sign
func (s *Signer) SignMessage(ctx context.Context, path string, message []byte) *dmk.DeviceAction[Signature] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[Signature](err)
	}
	payload := apdu.EncodePath(indices)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(message)))
	payload = append(payload, message...)
	return s.signChunked(ctx, insSignMessage, payload, dmk.InteractionSignPersonalMessage)
}

// SignTypedData EIP-712，设备端使用 hashed 模式 (domain separator + message hash)
func (s *Signer) SignTypedData(ctx context.Context, path string, typedData apitypes.TypedData) *dmk.DeviceAction[Signature] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[Signature](err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return dmk.Failed[Signature](fmt.Errorf("hash eip712 domain: %w", err))
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return dmk.Failed[Signature](fmt.Errorf("hash eip712 message: %w", err))
	}

	data := apdu.EncodePath(indices)
	data = append(data, domainSeparator...)
	data = append(data, messageHash...)
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (Signature, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return Signature{}, err
			}
			notify(dmk.InteractionSignTypedData)
			resp, err := ex.Exchange(ctx, apdu.Command{CLA: cla, INS: insSignEIP712, Data: data})
			if err != nil {
				return Signature{}, err
			}
			if err := resp.Err(); err != nil {
				return Signature{}, err
			}
			return parseVRS(resp.Data)
		})
}

// SignTransaction 对未签名交易 (UnsignedPayload 的输出) 签名。
// typed 交易返回的 V 为 recovery id。
func (s *Signer) SignTransaction(ctx context.Context, path string, unsignedTx []byte) *dmk.DeviceAction[Signature] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[Signature](err)
	}
	if len(unsignedTx) == 0 {
		return dmk.Failed[Signature](errors.New("empty transaction payload"))
	}
	payload := append(apdu.EncodePath(indices), unsignedTx...)
	return s.signChunked(ctx, insSignTx, payload, dmk.InteractionSignTransaction)
}

func (s *Signer) signChunked(ctx context.Context, ins byte, payload []byte, ui dmk.UserInteraction) *dmk.DeviceAction[Signature] {
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (Signature, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return Signature{}, err
			}
			notify(ui)
			resp, err := dmk.SendChunked(ctx, ex, cla, ins, payload)
			if err != nil {
				return Signature{}, err
			}
			return parseVRS(resp.Data)
		})
}

// parseVRS v(1) | r(32) | s(32)
func parseVRS(data []byte) (Signature, error) {
	if len(data) != 65 {
		return Signature{}, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(data))
	}
	return Signature{
		V: data[0],
		R: append([]byte(nil), data[1:33]...),
		S: append([]byte(nil), data[33:65]...),
	}, nil
}

// getAddressCommand E0 02 <display> 00 <path>
type getAddressCommand struct {
	path    []uint32
	display bool
}

func (c getAddressCommand) Apdu() (apdu.Command, error) {
	var p1 byte
	if c.display {
		p1 = 0x01
	}
	return apdu.Command{CLA: cla, INS: insGetAddress, P1: p1, Data: apdu.EncodePath(c.path)}, nil
}

// Parse pkLen | pk | addrLen | addr (hex ascii)
func (getAddressCommand) Parse(resp apdu.Response) (AddressResult, error) {
	data := resp.Data
	if len(data) < 1 || len(data) < 1+int(data[0])+1 {
		return AddressResult{}, errors.New("address response truncated")
	}
	pk := data[1 : 1+int(data[0])]
	data = data[1+int(data[0]):]
	n := int(data[0])
	if len(data) < 1+n {
		return AddressResult{}, errors.New("address response truncated")
	}
	checksummed, err := address.NewETHGenerator().ChecksumHex(string(data[1 : 1+n]))
	if err != nil {
		return AddressResult{}, err
	}
	return AddressResult{PublicKey: append([]byte(nil), pk...), Address: checksummed}, nil
}
