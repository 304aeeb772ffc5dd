package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxDataLength 短 APDU 的最大数据长度 (Lc 只有 1 字节)
const MaxDataLength = 255

// Command 一条发往设备的 APDU 指令
//
//	CLA | INS | P1 | P2 | Lc | Data
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
}

// Bytes 序列化为短 APDU
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > MaxDataLength {
		return nil, fmt.Errorf("apdu data too long: %d > %d", len(c.Data), MaxDataLength)
	}
	out := make([]byte, 0, 5+len(c.Data))
	out = append(out, c.CLA, c.INS, c.P1, c.P2, byte(len(c.Data)))
	return append(out, c.Data...), nil
}

// ParseCommand 解析短 APDU，设备端 (emulator) 使用
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < 4 {
		return Command{}, errors.New("apdu too short")
	}
	cmd := Command{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	if len(raw) == 4 {
		return cmd, nil
	}
	lc := int(raw[4])
	if len(raw) != 5+lc {
		return Command{}, fmt.Errorf("apdu length mismatch: lc=%d, got %d bytes", lc, len(raw)-5)
	}
	cmd.Data = raw[5:]
	return cmd, nil
}

// Response 设备返回的应答: Data || SW1 SW2
type Response struct {
	Data       []byte
	StatusWord uint16
}

// ParseResponse 拆分应答数据与状态字
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, errors.New("apdu response lacks status word")
	}
	n := len(raw) - 2
	return Response{
		Data:       raw[:n],
		StatusWord: binary.BigEndian.Uint16(raw[n:]),
	}, nil
}

// Bytes 序列化应答，设备端使用
func (r Response) Bytes() []byte {
	out := make([]byte, len(r.Data)+2)
	copy(out, r.Data)
	binary.BigEndian.PutUint16(out[len(r.Data):], r.StatusWord)
	return out
}

// Err 非 0x9000 时返回 *StatusError
func (r Response) Err() error {
	if r.StatusWord == SwOK {
		return nil
	}
	return &StatusError{StatusWord: r.StatusWord}
}

// EncodePath 按 Ledger 约定编码派生路径: 层数 (1 byte) + 每层 uint32 大端
func EncodePath(path []uint32) []byte {
	out := make([]byte, 1+4*len(path))
	out[0] = byte(len(path))
	for i, index := range path {
		binary.BigEndian.PutUint32(out[1+4*i:], index)
	}
	return out
}

// DecodePath 解析 EncodePath 的输出，返回路径以及剩余数据
func DecodePath(data []byte) ([]uint32, []byte, error) {
	if len(data) < 1 {
		return nil, nil, errors.New("path length missing")
	}
	n := int(data[0])
	if n == 0 || n > 10 {
		return nil, nil, fmt.Errorf("invalid path depth %d", n)
	}
	if len(data) < 1+4*n {
		return nil, nil, errors.New("path truncated")
	}
	path := make([]uint32, n)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(data[1+4*i:])
	}
	return path, data[1+4*n:], nil
}

// Chunk 将数据按 size 切片，空数据返回一个空块
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
