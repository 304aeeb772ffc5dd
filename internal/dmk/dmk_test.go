package dmk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"signer-core/internal/dmk"
	"signer-core/internal/transport/emulator"
	"signer-core/pkg/apdu"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func setup(t *testing.T, opts ...emulator.DeviceOption) (*dmk.Manager, *emulator.Device, dmk.SessionID) {
	t.Helper()
	dev, err := emulator.NewDeviceFromMnemonic(testMnemonic, "", opts...)
	require.NoError(t, err)
	tr := emulator.NewTransport()
	_, err = tr.Plug(dev)
	require.NoError(t, err)

	m := dmk.NewManager(dmk.WithTransport(tr), dmk.WithDiscoveryInterval(10*time.Millisecond))
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	id, err := m.Connect(context.Background(), dmk.ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: dmk.SessionRefresherOptions{IsRefresherDisabled: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, dev, id
}

func TestListDevicesWithoutTransport(t *testing.T) {
	_, err := dmk.NewManager().ListDevices(context.Background())
	assert.ErrorIs(t, err, dmk.ErrNoTransport)
}

func TestConnectAndState(t *testing.T) {
	m, _, id := setup(t)

	state, err := m.GetDeviceSessionState(id)
	require.NoError(t, err)
	assert.Equal(t, dmk.StatusConnected, state.Status)
	assert.Equal(t, dmk.DashboardAppName, state.AppName)
	assert.Equal(t, id, state.SessionID)

	app, err := dmk.SendCommand(context.Background(), m, id, dmk.GetAppAndVersionCommand{}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, dmk.DashboardAppName, app.Name)
}

func TestSendApduReturnsStatusWord(t *testing.T) {
	m, _, id := setup(t)
	resp, err := m.SendApdu(context.Background(), id, apdu.Command{CLA: 0xe0, INS: 0xd8, Data: []byte("Nope")})
	require.NoError(t, err)
	assert.Equal(t, apdu.SwAppNotFound, resp.StatusWord)

	result := dmk.SendCommand(context.Background(), m, id, dmk.OpenAppCommand{AppName: "Nope"})
	assert.False(t, result.IsSuccess())
	assert.True(t, apdu.IsStatus(result.Err, apdu.SwAppNotFound))
}

func TestEnsureAppAction(t *testing.T) {
	m, dev, id := setup(t)

	action := dmk.NewDeviceAction(context.Background(), m, id,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (string, error) {
			if err := dmk.EnsureApp(ctx, ex, notify, "Ethereum"); err != nil {
				return "", err
			}
			return "opened", nil
		})

	var interactions []dmk.UserInteraction
	var last dmk.DeviceActionState[string]
	for st := range action.Observe() {
		interactions = append(interactions, st.Interaction)
		last = st
	}
	require.Equal(t, dmk.ActionCompleted, last.Status)
	assert.Equal(t, "opened", last.Output)
	assert.Contains(t, interactions, dmk.InteractionConfirmOpenApp)
	assert.Equal(t, "Ethereum", dev.CurrentApp())

	state, err := m.GetDeviceSessionState(id)
	require.NoError(t, err)
	assert.Equal(t, "Ethereum", state.AppName)

	// 切换到另一个 App 会先关闭当前 App
	res := dmk.Await(context.Background(), dmk.NewDeviceAction(context.Background(), m, id,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (struct{}, error) {
			return struct{}{}, dmk.EnsureApp(ctx, ex, notify, "Solana")
		}))
	require.True(t, res.Completed(), "%v", res.Err)
	assert.Equal(t, "Solana", dev.CurrentApp())
}

func TestEnsureAppLockedDevice(t *testing.T) {
	m, dev, id := setup(t)
	dev.Lock()

	action := dmk.NewDeviceAction(context.Background(), m, id,
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (struct{}, error) {
			return struct{}{}, dmk.EnsureApp(ctx, ex, notify, "Bitcoin")
		})
	var interactions []dmk.UserInteraction
	var last dmk.DeviceActionState[struct{}]
	for st := range action.Observe() {
		interactions = append(interactions, st.Interaction)
		last = st
	}
	assert.Equal(t, dmk.ActionError, last.Status)
	assert.True(t, apdu.IsStatus(last.Err, apdu.SwDeviceLocked))
	assert.Contains(t, interactions, dmk.InteractionUnlockDevice)

	state, err := m.GetDeviceSessionState(id)
	require.NoError(t, err)
	assert.Equal(t, dmk.StatusLocked, state.Status)
}

func TestAwaitFailed(t *testing.T) {
	boom := errors.New("boom")
	res := dmk.Await(context.Background(), dmk.Failed[int](boom))
	assert.False(t, res.Completed())
	_, err := res.Unwrap()
	assert.ErrorIs(t, err, boom)
}

func TestActionOnUnknownSession(t *testing.T) {
	m, _, _ := setup(t)
	res := dmk.Await(context.Background(), dmk.NewDeviceAction(context.Background(), m, "missing",
		func(ctx context.Context, ex dmk.Exchanger, notify dmk.Notifier) (int, error) {
			return 1, nil
		}))
	assert.ErrorIs(t, res.Err, dmk.ErrSessionNotFound)
}

func TestDisconnect(t *testing.T) {
	m, _, id := setup(t)

	require.NoError(t, m.Disconnect(context.Background(), id))
	assert.ErrorIs(t, m.Disconnect(context.Background(), id), dmk.ErrSessionNotFound)
	_, err := m.GetDeviceSessionState(id)
	assert.ErrorIs(t, err, dmk.ErrSessionNotFound)
	assert.ErrorIs(t, m.Execute(context.Background(), id, func(context.Context, dmk.Exchanger) error { return nil }),
		dmk.ErrSessionNotFound)
}

// failingTransport 通道可以交互，但关闭时报错
type failingTransport struct{}

type failingChannel struct{}

func (failingTransport) Identifier() string { return "failing" }

func (failingTransport) Enumerate(context.Context) ([]dmk.DiscoveredDevice, error) {
	return []dmk.DiscoveredDevice{{ID: "f-1", Transport: "failing", Name: "Broken"}}, nil
}

func (failingTransport) Open(context.Context, dmk.DiscoveredDevice) (dmk.Channel, error) {
	return failingChannel{}, nil
}

func (failingChannel) Exchange(context.Context, []byte) ([]byte, error) {
	return []byte{0x01, 0x05, 'B', 'O', 'L', 'O', 'S', 0x01, '1', 0x90, 0x00}, nil
}

func (failingChannel) Close() error { return errors.New("usb gone") }

func TestDisconnectRemovesSessionEvenOnError(t *testing.T) {
	m := dmk.NewManager(dmk.WithTransport(failingTransport{}))
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)
	id, err := m.Connect(context.Background(), dmk.ConnectRequest{Device: devices[0]})
	require.NoError(t, err)

	assert.Error(t, m.Disconnect(context.Background(), id))
	assert.Empty(t, m.Sessions())
}

func TestStartDiscovering(t *testing.T) {
	m, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	select {
	case d := <-m.StartDiscovering(ctx):
		assert.Equal(t, emulator.Identifier, d.Transport)
	case <-time.After(time.Second):
		t.Fatal("no device discovered")
	}
}

func TestRefresherKeepsStateFresh(t *testing.T) {
	dev, err := emulator.NewDeviceFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	tr := emulator.NewTransport()
	_, err = tr.Plug(dev)
	require.NoError(t, err)
	m := dmk.NewManager(dmk.WithTransport(tr))
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)

	id, err := m.Connect(context.Background(), dmk.ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: dmk.SessionRefresherOptions{Interval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	defer m.Close(context.Background())

	// 绕过会话直接在设备上打开 App，刷新器应当发现
	resp, err := apdu.ParseResponse(dev.Exchange([]byte{0xe0, 0xd8, 0x00, 0x00, 0x06, 'S', 'o', 'l', 'a', 'n', 'a'}))
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	assert.Eventually(t, func() bool {
		state, err := m.GetDeviceSessionState(id)
		return err == nil && state.AppName == "Solana"
	}, time.Second, 10*time.Millisecond)
}

func TestExecuteSerializesSessionsOnSameDevice(t *testing.T) {
	m, _, first := setup(t)
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), dmk.ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: dmk.SessionRefresherOptions{IsRefresherDisabled: true},
	})
	require.NoError(t, err)

	// 第一个会话占住设备
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Execute(context.Background(), first, func(context.Context, dmk.Exchanger) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = m.Execute(ctx, second, func(context.Context, dmk.Exchanger) error { return nil })
	assert.ErrorIs(t, err, dmk.ErrDeviceBusy)

	close(release)
	require.NoError(t, <-done)
	app, err := dmk.SendCommand(context.Background(), m, second, dmk.GetAppAndVersionCommand{}).Unwrap()
	require.NoError(t, err)
	assert.Equal(t, dmk.DashboardAppName, app.Name)
}

func TestEnsureAppHeldAcrossSessions(t *testing.T) {
	m, dev, first := setup(t)
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), dmk.ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: dmk.SessionRefresherOptions{IsRefresherDisabled: true},
	})
	require.NoError(t, err)

	// 两个会话交替要求不同的 App，每组交互结束时设备上仍是自己打开的 App
	run := func(id dmk.SessionID, app string) error {
		return m.Execute(context.Background(), id, func(ctx context.Context, ex dmk.Exchanger) error {
			if err := dmk.EnsureApp(ctx, ex, func(dmk.UserInteraction) {}, app); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
			if current := dev.CurrentApp(); current != app {
				return errors.New("app switched to " + current)
			}
			return nil
		})
	}

	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func() { errs <- run(first, "Ethereum") }()
		go func() { errs <- run(second, "Bitcoin") }()
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
}
