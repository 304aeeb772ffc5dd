package solana

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/near/borsh-go"
)

// OffchainSigningDomain 链下消息前缀 "\xffsolana offchain"
var OffchainSigningDomain = [16]byte{0xff, 's', 'o', 'l', 'a', 'n', 'a', ' ', 'o', 'f', 'f', 'c', 'h', 'a', 'i', 'n'}

// OffchainFormat 消息内容格式
type OffchainFormat uint8

const (
	FormatRestrictedASCII OffchainFormat = 0
	FormatLimitedUTF8     OffchainFormat = 1
	FormatExtendedUTF8    OffchainFormat = 2
)

const (
	offchainHeaderLen = 20
	// 硬件钱包一次能显示的上限
	MaxLedgerOffchainLen = 1212
	maxExtendedLen       = 65515
)

var ErrInvalidOffchainMessage = errors.New("invalid solana offchain message")

// offchainHeader signingDomain(16) | version(u8) | format(u8) | length(u16 LE)
type offchainHeader struct {
	SigningDomain [16]byte `borsh:"signing_domain"`
	Version       uint8    `borsh:"version"`
	Format        uint8    `borsh:"format"`
	Length        uint16   `borsh:"length"`
}

// OffchainMessage 一条版本 0 的链下消息
type OffchainMessage struct {
	Format  OffchainFormat
	Message []byte
}

// NewOffchainMessage 按内容选择最严格的格式
func NewOffchainMessage(message []byte) (OffchainMessage, error) {
	if len(message) == 0 {
		return OffchainMessage{}, fmt.Errorf("%w: empty message", ErrInvalidOffchainMessage)
	}
	switch {
	case isRestrictedASCII(message) && len(message) <= MaxLedgerOffchainLen:
		return OffchainMessage{Format: FormatRestrictedASCII, Message: message}, nil
	case utf8.Valid(message) && len(message) <= MaxLedgerOffchainLen:
		return OffchainMessage{Format: FormatLimitedUTF8, Message: message}, nil
	case utf8.Valid(message) && len(message) <= maxExtendedLen:
		return OffchainMessage{Format: FormatExtendedUTF8, Message: message}, nil
	default:
		return OffchainMessage{}, fmt.Errorf("%w: message is not utf-8 or too long", ErrInvalidOffchainMessage)
	}
}

// Serialize 生成待签名的完整字节 (header || message)
func (m OffchainMessage) Serialize() ([]byte, error) {
	header, err := borsh.Serialize(offchainHeader{
		SigningDomain: OffchainSigningDomain,
		Version:       0,
		Format:        uint8(m.Format),
		Length:        uint16(len(m.Message)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode offchain header: %w", err)
	}
	return append(header, m.Message...), nil
}

// DecodeOffchainMessage 解析 Serialize 的输出
func DecodeOffchainMessage(data []byte) (OffchainMessage, error) {
	if len(data) < offchainHeaderLen {
		return OffchainMessage{}, fmt.Errorf("%w: truncated header", ErrInvalidOffchainMessage)
	}
	var header offchainHeader
	if err := borsh.Deserialize(&header, data[:offchainHeaderLen]); err != nil {
		return OffchainMessage{}, fmt.Errorf("%w: %v", ErrInvalidOffchainMessage, err)
	}
	if !bytes.Equal(header.SigningDomain[:], OffchainSigningDomain[:]) {
		return OffchainMessage{}, fmt.Errorf("%w: bad signing domain", ErrInvalidOffchainMessage)
	}
	if header.Version != 0 {
		return OffchainMessage{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidOffchainMessage, header.Version)
	}
	if header.Format > uint8(FormatExtendedUTF8) {
		return OffchainMessage{}, fmt.Errorf("%w: unknown format %d", ErrInvalidOffchainMessage, header.Format)
	}
	body := data[offchainHeaderLen:]
	if len(body) != int(header.Length) {
		return OffchainMessage{}, fmt.Errorf("%w: length %d, got %d bytes", ErrInvalidOffchainMessage, header.Length, len(body))
	}
	if OffchainFormat(header.Format) == FormatRestrictedASCII && !isRestrictedASCII(body) {
		return OffchainMessage{}, fmt.Errorf("%w: non printable ascii", ErrInvalidOffchainMessage)
	}
	if !utf8.Valid(body) {
		return OffchainMessage{}, fmt.Errorf("%w: invalid utf-8", ErrInvalidOffchainMessage)
	}
	return OffchainMessage{Format: OffchainFormat(header.Format), Message: body}, nil
}

func isRestrictedASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
