package hid

import (
	"bytes"
	"encoding/binary"
	"testing"

	"signer-core/internal/dmk"
	"signer-core/internal/transport/emulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback 模拟 USB 端点: 收齐一条 APDU 后交给模拟设备，并把应答按同样的规则分帧
type loopback struct {
	t      *testing.T
	dev    *emulator.Device
	in     []byte
	want   int
	out    bytes.Buffer
	writes int
}

func (l *loopback) Write(p []byte) (int, error) {
	require.Len(l.t, p, packetSize)
	l.writes++
	body := p[headerSize:]
	if binary.BigEndian.Uint16(p[3:]) == 0 {
		l.want = int(binary.BigEndian.Uint16(body))
		l.in = nil
		body = body[2:]
	}
	l.in = append(l.in, body...)
	if len(l.in) >= l.want {
		reply := l.dev.Exchange(l.in[:l.want])
		f := framer{rw: &l.out, channel: defaultChanID}
		require.NoError(l.t, f.writeApdu(reply))
	}
	return len(p), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	return l.out.Read(p)
}

func TestFramingRoundTrip(t *testing.T) {
	dev, err := emulator.NewDeviceFromMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	require.NoError(t, err)
	lb := &loopback{t: t, dev: dev}
	f := framer{rw: lb, channel: defaultChanID}

	require.NoError(t, f.writeApdu([]byte{0xb0, 0x01, 0x00, 0x00, 0x00}))
	reply, err := f.readReply()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x00}, reply[len(reply)-2:])
	assert.Equal(t, 1, lb.writes)

	// 打开 App 后取地址，应答跨多个报文
	require.NoError(t, f.writeApdu([]byte{0xe0, 0xd8, 0x00, 0x00, 0x08, 'E', 't', 'h', 'e', 'r', 'e', 'u', 'm'}))
	_, err = f.readReply()
	require.NoError(t, err)

	long := []byte{0xe0, 0x02, 0x00, 0x00, 21, 5,
		0x80, 0, 0, 44, 0x80, 0, 0, 60, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	lb.writes = 0
	require.NoError(t, f.writeApdu(long))
	reply, err = f.readReply()
	require.NoError(t, err)
	assert.Equal(t, 1, lb.writes)
	// pkLen | pk65 | addrLen | addr40 | SW
	assert.Len(t, reply, 1+65+1+40+2)
}

func TestWriteSplitsIntoPackets(t *testing.T) {
	var buf bytes.Buffer
	f := framer{rw: &buf, channel: defaultChanID}
	apdu := bytes.Repeat([]byte{0xaa}, 200)
	require.NoError(t, f.writeApdu(apdu))

	// 首包 57 字节有效载荷，后续每包 59 字节
	assert.Equal(t, 4*packetSize, buf.Len())
	raw := buf.Bytes()
	for seq := 0; seq < 4; seq++ {
		p := raw[seq*packetSize:]
		assert.Equal(t, []byte{0x01, 0x01, 0x05}, p[:3])
		assert.Equal(t, uint16(seq), binary.BigEndian.Uint16(p[3:]))
	}
	assert.Equal(t, uint16(200), binary.BigEndian.Uint16(raw[5:]))
}

func TestReadRejectsForeignChannel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&framer{rw: &buf, channel: 0x0202}).writeApdu([]byte{0x90, 0x00}))
	_, err := (&framer{rw: &buf, channel: defaultChanID}).readReply()
	assert.ErrorIs(t, err, ErrInvalidReplyHeader)
}

func TestModelFromProductID(t *testing.T) {
	assert.Equal(t, dmk.ModelNanoX, modelFromProductID(0x4011))
	assert.Equal(t, dmk.ModelNanoSPlus, modelFromProductID(0x5011))
	assert.Equal(t, dmk.ModelNanoS, modelFromProductID(0x0001))
	assert.Equal(t, dmk.ModelUnknown, modelFromProductID(0x9999))
}
