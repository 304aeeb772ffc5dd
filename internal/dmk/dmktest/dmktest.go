// Package dmktest 测试辅助: 在模拟设备上建立会话
package dmktest

import (
	"context"
	"testing"
	"time"

	"signer-core/internal/dmk"
	"signer-core/internal/transport/emulator"

	"github.com/stretchr/testify/require"
)

// Mnemonic 公开的测试助记词 (指纹 73c5da0a)
const Mnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// Env 一个已插入模拟设备的 Manager
type Env struct {
	Manager   *dmk.Manager
	Transport *emulator.Transport
	Device    *emulator.Device
}

// NewEnv 创建 Manager 并插入一台模拟设备
func NewEnv(t *testing.T, opts ...emulator.DeviceOption) *Env {
	t.Helper()
	dev, err := emulator.NewDeviceFromMnemonic(Mnemonic, "", opts...)
	require.NoError(t, err)
	tr := emulator.NewTransport()
	_, err = tr.Plug(dev)
	require.NoError(t, err)

	m := dmk.NewManager(dmk.WithTransport(tr), dmk.WithDiscoveryInterval(10*time.Millisecond))
	t.Cleanup(func() { m.Close(context.Background()) })
	return &Env{Manager: m, Transport: tr, Device: dev}
}

// Connect 连接唯一的设备，关闭会话刷新
func (e *Env) Connect(t *testing.T) dmk.SessionID {
	t.Helper()
	devices, err := e.Manager.ListDevices(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	id, err := e.Manager.Connect(context.Background(), dmk.ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: dmk.SessionRefresherOptions{IsRefresherDisabled: true},
	})
	require.NoError(t, err)
	return id
}

// Session NewEnv + Connect
func Session(t *testing.T, opts ...emulator.DeviceOption) (*dmk.Manager, *emulator.Device, dmk.SessionID) {
	t.Helper()
	env := NewEnv(t, opts...)
	return env.Manager, env.Device, env.Connect(t)
}

// OnlyOpenApps 批准打开 App，拒绝其余操作
func OnlyOpenApps(req emulator.ApprovalRequest) bool {
	return req.Operation == "open_app"
}

// Await 等待动作结束
func Await[T any](t *testing.T, a *dmk.DeviceAction[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return dmk.Await(ctx, a).Unwrap()
}
