// Package solana Solana App 的设备动作
package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	solchain "signer-core/internal/chain/solana"
	"signer-core/internal/dmk"
	"signer-core/pkg/address"
	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"
)

const (
	AppName = "Solana"

	cla             byte = 0xe0
	insGetConfig    byte = 0x04
	insGetPubkey    byte = 0x05
	insSignTx       byte = 0x06
	insSignOffchain byte = 0x07

	p1Confirm byte = 0x01
	p2Extend  byte = 0x01
	p2More    byte = 0x02
)

// AddressResult GET_PUBKEY 的结果
type AddressResult struct {
	PublicKey ed25519.PublicKey
	Address   string
}

// AppConfiguration GET_APP_CONFIGURATION 的结果
type AppConfiguration struct {
	BlindSigningEnabled bool
	PubKeyDisplayMode   byte
	Version             string
}

// Signer 绑定到一个设备会话的 Solana 签名器
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

// GetAddress 返回路径上的 base58 地址
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
			return dmk.RunCommand(ctx, ex, getPubkeyCommand{path: indices, display: checkOnDevice}).Unwrap()
		})
}

// GetAppConfiguration 读取 App 设置与版本
func (s *Signer) GetAppConfiguration(ctx context.Context) *dmk.DeviceAction[AppConfiguration] {
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (AppConfiguration, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return AppConfiguration{}, err
			}
			return dmk.RunCommand(ctx, ex, getAppConfigurationCommand{}).Unwrap()
		})
}

// SignMessage 签名链下消息，返回 base58 信封 (签名 + 完整链下消息)
func (s *Signer) SignMessage(ctx context.Context, path string, message []byte) *dmk.DeviceAction[string] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[string](err)
	}
	msg, err := solchain.NewOffchainMessage(message)
	if err != nil {
		return dmk.Failed[string](err)
	}
	offchain, err := msg.Serialize()
	if err != nil {
		return dmk.Failed[string](err)
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (string, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return "", err
			}
			notify(dmk.InteractionSignPersonalMessage)
			sig, err := signPayload(ctx, ex, insSignOffchain, indices, offchain)
			if err != nil {
				return "", err
			}
			return solchain.EncodeEnvelope(sig, offchain)
		})
}

// SignTransaction 对序列化后的交易消息签名，返回 64 字节签名
func (s *Signer) SignTransaction(ctx context.Context, path string, message []byte) *dmk.DeviceAction[[]byte] {
	indices, err := bip32.ParsePath(path)
	if err != nil {
		return dmk.Failed[[]byte](err)
	}
	if len(message) == 0 {
		return dmk.Failed[[]byte](errors.New("empty transaction message"))
	}
	return dmk.NewDeviceAction(ctx, s.manager, s.session,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) ([]byte, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, AppName); err != nil {
				return nil, err
			}
			notify(dmk.InteractionSignTransaction)
			return signPayload(ctx, ex, insSignTx, indices, message)
		})
}

// signPayload signerCount(1) | path | message，按 P2_MORE / P2_EXTEND 分块
func signPayload(ctx context.Context, ex dmk.Exchanger, ins byte, path []uint32, message []byte) ([]byte, error) {
	payload := append([]byte{1}, apdu.EncodePath(path)...)
	payload = append(payload, message...)

	chunks := apdu.Chunk(payload, apdu.MaxDataLength)
	var resp apdu.Response
	for i, chunk := range chunks {
		var p2 byte
		if i > 0 {
			p2 |= p2Extend
		}
		if i < len(chunks)-1 {
			p2 |= p2More
		}
		var err error
		resp, err = ex.Exchange(ctx, apdu.Command{CLA: cla, INS: ins, P1: p1Confirm, P2: p2, Data: chunk})
		if err != nil {
			return nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, fmt.Errorf("chunk %d of ins 0x%02x: %w", i, ins, err)
		}
	}
	if len(resp.Data) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(resp.Data))
	}
	return append([]byte(nil), resp.Data...), nil
}

// getPubkeyCommand E0 05 <display> 00 <path>
type getPubkeyCommand struct {
	path    []uint32
	display bool
}

func (c getPubkeyCommand) Apdu() (apdu.Command, error) {
	var p1 byte
	if c.display {
		p1 = 0x01
	}
	return apdu.Command{CLA: cla, INS: insGetPubkey, P1: p1, Data: apdu.EncodePath(c.path)}, nil
}

func (getPubkeyCommand) Parse(resp apdu.Response) (AddressResult, error) {
	addr, err := address.NewSOLGenerator().PubKeyToAddress(resp.Data)
	if err != nil {
		return AddressResult{}, err
	}
	return AddressResult{PublicKey: append(ed25519.PublicKey(nil), resp.Data...), Address: addr}, nil
}

type getAppConfigurationCommand struct{}

func (getAppConfigurationCommand) Apdu() (apdu.Command, error) {
	return apdu.Command{CLA: cla, INS: insGetConfig}, nil
}

// Parse blindSigning | pubkeyDisplay | major | minor | patch
func (getAppConfigurationCommand) Parse(resp apdu.Response) (AppConfiguration, error) {
	d := resp.Data
	if len(d) < 5 {
		return AppConfiguration{}, errors.New("app configuration truncated")
	}
	return AppConfiguration{
		BlindSigningEnabled: d[0] == 0x01,
		PubKeyDisplayMode:   d[1],
		Version:             fmt.Sprintf("%d.%d.%d", d[2], d[3], d[4]),
	}, nil
}
