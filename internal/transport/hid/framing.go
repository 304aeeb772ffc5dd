package hid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	packetSize    = 64
	ledgerTag     = 0x05
	headerSize    = 5 // channel(2) | tag(1) | seq(2)
	defaultChanID = 0x0101
)

var ErrInvalidReplyHeader = errors.New("invalid hid reply header")

// framer Ledger HID 分帧: 每个 64 字节报文以 channel | tag | seq 开头，
// 第一个报文额外携带 2 字节的 APDU 总长度
type framer struct {
	rw      io.ReadWriter
	channel uint16
}

// writeApdu 分帧写出一条 APDU
func (f *framer) writeApdu(apdu []byte) error {
	payload := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(payload, uint16(len(apdu)))
	payload = append(payload, apdu...)

	packet := make([]byte, packetSize)
	for seq := 0; len(payload) > 0; seq++ {
		for i := range packet {
			packet[i] = 0
		}
		binary.BigEndian.PutUint16(packet[0:], f.channel)
		packet[2] = ledgerTag
		binary.BigEndian.PutUint16(packet[3:], uint16(seq))

		n := copy(packet[headerSize:], payload)
		payload = payload[n:]
		if _, err := f.rw.Write(packet); err != nil {
			return fmt.Errorf("write hid packet %d: %w", seq, err)
		}
	}
	return nil
}

// readReply 读取完整应答 (data || SW)，状态字保留给上层解析
func (f *framer) readReply() ([]byte, error) {
	var (
		reply    []byte
		expected = -1
		packet   = make([]byte, packetSize)
	)
	for seq := 0; ; seq++ {
		if _, err := io.ReadFull(f.rw, packet); err != nil {
			return nil, fmt.Errorf("read hid packet %d: %w", seq, err)
		}
		if binary.BigEndian.Uint16(packet[0:]) != f.channel || packet[2] != ledgerTag {
			return nil, ErrInvalidReplyHeader
		}
		if got := int(binary.BigEndian.Uint16(packet[3:])); got != seq {
			return nil, fmt.Errorf("%w: sequence %d, want %d", ErrInvalidReplyHeader, got, seq)
		}

		body := packet[headerSize:]
		if seq == 0 {
			expected = int(binary.BigEndian.Uint16(body))
			reply = make([]byte, 0, expected)
			body = body[2:]
		}
		left := expected - len(reply)
		if left > len(body) {
			reply = append(reply, body...)
			continue
		}
		return append(reply, body[:left]...), nil
	}
}
