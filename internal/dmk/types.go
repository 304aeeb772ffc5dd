package dmk

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("device session not found")
	ErrNoTransport     = errors.New("no transport registered")
	ErrDeviceBusy      = errors.New("device is busy with another action")
)

// SessionID 设备会话标识，空字符串表示未连接
type SessionID string

// DeviceModel 设备型号
type DeviceModel string

const (
	ModelNanoS     DeviceModel = "nanoS"
	ModelNanoSPlus DeviceModel = "nanoSP"
	ModelNanoX     DeviceModel = "nanoX"
	ModelStax      DeviceModel = "stax"
	ModelFlex      DeviceModel = "flex"
	ModelUnknown   DeviceModel = "unknown"
)

// DiscoveredDevice 发现阶段得到的设备描述
type DiscoveredDevice struct {
	ID        string      `json:"id"`
	Transport string      `json:"transport"`
	Model     DeviceModel `json:"model"`
	Name      string      `json:"name"`
}

// SessionRefresherOptions 会话刷新 (定时轮询设备当前 App) 配置
type SessionRefresherOptions struct {
	IsRefresherDisabled bool
	Interval            time.Duration
}

// ConnectRequest 打开会话的参数
type ConnectRequest struct {
	Device                  DiscoveredDevice
	SessionRefresherOptions SessionRefresherOptions
}

// DeviceStatus 会话中设备的状态
type DeviceStatus string

const (
	StatusConnected    DeviceStatus = "CONNECTED"
	StatusBusy         DeviceStatus = "BUSY"
	StatusLocked       DeviceStatus = "LOCKED"
	StatusNotConnected DeviceStatus = "NOT_CONNECTED"
)

// DeviceSessionState 会话快照
type DeviceSessionState struct {
	SessionID  SessionID        `json:"session_id"`
	Device     DiscoveredDevice `json:"device"`
	Status     DeviceStatus     `json:"status"`
	AppName    string           `json:"app_name"`
	AppVersion string           `json:"app_version"`
}

// Transport 一种设备连接方式 (USB HID、模拟器...)
type Transport interface {
	// Identifier 传输层名称，如 "hid" / "emulator"
	Identifier() string
	// Enumerate 列出当前可用的设备
	Enumerate(ctx context.Context) ([]DiscoveredDevice, error)
	// Open 打开到设备的通道
	Open(ctx context.Context, device DiscoveredDevice) (Channel, error)
}

// Channel 已打开的设备通道，一次 Exchange 对应一条原始 APDU 的往返
type Channel interface {
	Exchange(ctx context.Context, apdu []byte) ([]byte, error)
	Close() error
}
