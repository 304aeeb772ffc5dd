package emulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"signer-core/internal/dmk"
	"signer-core/pkg/safe_random"
)

// Identifier 模拟器传输层名称
const Identifier = "emulator"

var (
	ErrDeviceNotFound = errors.New("emulated device not found")
	ErrChannelClosed  = errors.New("emulator channel closed")
)

// Transport 把一组模拟设备暴露为 dmk.Transport
type Transport struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*Device
}

func NewTransport() *Transport {
	return &Transport{devices: make(map[string]*Device)}
}

// Plug 接入一台设备，返回分配的序列号
func (t *Transport) Plug(d *Device) (string, error) {
	id, err := safe_random.DeviceSerial("EMU")
	if err != nil {
		return "", fmt.Errorf("allocate device serial: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.devices[id] = d
	t.order = append(t.order, id)
	return id, nil
}

// Unplug 拔出设备，之后已打开的通道 Exchange 返回错误
func (t *Transport) Unplug(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *Transport) Identifier() string {
	return Identifier
}

func (t *Transport) Enumerate(ctx context.Context) ([]dmk.DiscoveredDevice, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]dmk.DiscoveredDevice, 0, len(t.order))
	for _, id := range t.order {
		d := t.devices[id]
		out = append(out, dmk.DiscoveredDevice{
			ID:        id,
			Transport: Identifier,
			Model:     dmk.DeviceModel(d.Model),
			Name:      d.Name,
		})
	}
	return out, nil
}

func (t *Transport) Open(ctx context.Context, device dmk.DiscoveredDevice) (dmk.Channel, error) {
	if _, err := t.lookup(device.ID); err != nil {
		return nil, err
	}
	return &channel{t: t, id: device.ID}, nil
}

func (t *Transport) lookup(id string) (*Device, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

type channel struct {
	t      *Transport
	id     string
	closed atomic.Bool
}

func (c *channel) Exchange(ctx context.Context, raw []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := c.t.lookup(c.id)
	if err != nil {
		return nil, err
	}
	return d.Exchange(raw), nil
}

func (c *channel) Close() error {
	c.closed.Store(true)
	return nil
}
