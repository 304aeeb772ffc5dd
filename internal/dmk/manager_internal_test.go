package dmk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTransport struct{}

type stubChannel struct{}

func (stubTransport) Identifier() string { return "stub" }

func (stubTransport) Enumerate(context.Context) ([]DiscoveredDevice, error) {
	return []DiscoveredDevice{{ID: "s-1", Transport: "stub", Name: "Stub"}}, nil
}

func (stubTransport) Open(context.Context, DiscoveredDevice) (Channel, error) {
	return stubChannel{}, nil
}

func (stubChannel) Exchange(context.Context, []byte) ([]byte, error) {
	return []byte{0x01, 0x05, 'B', 'O', 'L', 'O', 'S', 0x01, '1', 0x90, 0x00}, nil
}

func (stubChannel) Close() error { return nil }

func TestDisconnectTimeoutLeavesSessionUnlocked(t *testing.T) {
	m := NewManager(WithTransport(stubTransport{}), WithLogger(zap.NewNop()))
	devices, err := m.ListDevices(context.Background())
	require.NoError(t, err)
	id, err := m.Connect(context.Background(), ConnectRequest{
		Device:                  devices[0],
		SessionRefresherOptions: SessionRefresherOptions{IsRefresherDisabled: true},
	})
	require.NoError(t, err)
	s, err := m.session(id)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Execute(context.Background(), id, func(context.Context, Exchanger) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, m.Disconnect(ctx, id))

	close(release)
	<-done
	time.Sleep(4 * idlePollInterval)

	// 超时放弃等待后不应再有人拿走会话锁和设备锁
	require.True(t, s.mu.TryLock())
	s.mu.Unlock()
	require.True(t, s.devLock.tryAcquire())
	s.devLock.release()
}
