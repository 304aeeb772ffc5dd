package hid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signer-core/internal/dmk"

	"github.com/karalabe/hid"
)

const (
	// Identifier USB HID 传输层名称
	Identifier = "hid"

	LedgerVendorID  uint16 = 0x2c97
	ledgerUsagePage uint16 = 0xffa0
)

var ErrDeviceGone = errors.New("hid device not present")

// Transport 通过 USB HID 访问 Ledger 设备
type Transport struct {
	vendorID uint16
}

func NewTransport() *Transport {
	return &Transport{vendorID: LedgerVendorID}
}

func (t *Transport) Identifier() string {
	return Identifier
}

func (t *Transport) Enumerate(ctx context.Context) ([]dmk.DiscoveredDevice, error) {
	if !hid.Supported() {
		return nil, errors.New("hid is not supported on this platform")
	}
	infos, err := hid.Enumerate(t.vendorID, 0)
	if err != nil {
		return nil, fmt.Errorf("enumerate hid: %w", err)
	}
	var out []dmk.DiscoveredDevice
	for _, info := range infos {
		// 每台设备暴露多个接口，只取 APDU 所在的那一个
		if info.UsagePage != ledgerUsagePage && info.Interface != 0 {
			continue
		}
		out = append(out, dmk.DiscoveredDevice{
			ID:        info.Path,
			Transport: Identifier,
			Model:     modelFromProductID(info.ProductID),
			Name:      info.Product,
		})
	}
	return out, nil
}

func (t *Transport) Open(ctx context.Context, device dmk.DiscoveredDevice) (dmk.Channel, error) {
	infos, err := hid.Enumerate(t.vendorID, 0)
	if err != nil {
		return nil, fmt.Errorf("enumerate hid: %w", err)
	}
	for _, info := range infos {
		if info.Path != device.ID {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", device.ID, err)
		}
		return &channel{dev: dev, framer: framer{rw: dev, channel: defaultChanID}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceGone, device.ID)
}

type channel struct {
	mu     sync.Mutex
	dev    hid.Device
	framer framer
}

func (c *channel) Exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.framer.writeApdu(apdu); err != nil {
		return nil, err
	}
	return c.framer.readReply()
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Close()
}

// modelFromProductID 新固件的 productID 高字节标识型号
func modelFromProductID(pid uint16) dmk.DeviceModel {
	switch pid >> 8 {
	case 0x10:
		return dmk.ModelNanoS
	case 0x40:
		return dmk.ModelNanoX
	case 0x50:
		return dmk.ModelNanoSPlus
	case 0x60:
		return dmk.ModelStax
	case 0x70:
		return dmk.ModelFlex
	}
	switch pid {
	case 0x0001:
		return dmk.ModelNanoS
	case 0x0004:
		return dmk.ModelNanoX
	case 0x0005:
		return dmk.ModelNanoSPlus
	}
	return dmk.ModelUnknown
}
