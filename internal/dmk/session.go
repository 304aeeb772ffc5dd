package dmk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signer-core/pkg/apdu"
	"signer-core/pkg/crypto_util"
	"signer-core/pkg/monitor"

	"go.uber.org/zap"
)

// deviceLock 一台物理设备的独占锁。
// 同一设备上的多个会话共用它，一组 APDU (打开 App + 分块签名) 期间不会被其它会话打断。
type deviceLock chan struct{}

func newDeviceLock() deviceLock {
	return make(deviceLock, 1)
}

// acquire 等待设备空闲，ctx 结束时返回 ErrDeviceBusy
func (l deviceLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeviceBusy, ctx.Err())
	}
}

func (l deviceLock) tryAcquire() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l deviceLock) release() {
	<-l
}

// session 一个打开的设备会话。
// mu 是会话锁，device 是设备锁，顺序固定为先 mu 后 device。
// 刷新器只在两者都空闲时 TryLock。
type session struct {
	id        SessionID
	device    DiscoveredDevice
	transport string
	channel   Channel
	log       *zap.Logger
	devLock   deviceLock

	mu       sync.Mutex
	isClosed atomic.Bool

	stateMu sync.RWMutex
	state   DeviceSessionState

	refresherCancel context.CancelFunc
	refresherDone   chan struct{}
}

// Exchange 实现 Exchanger，调用方需持有 mu
func (s *session) Exchange(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	raw, err := cmd.Bytes()
	if err != nil {
		return apdu.Response{}, err
	}

	s.log.Debug("APDU =>",
		zap.String("session_id", string(s.id)),
		zap.String("cmd", fmt.Sprintf("%02x%02x%02x%02x", cmd.CLA, cmd.INS, cmd.P1, cmd.P2)),
		zap.Int("len", len(cmd.Data)),
		zap.String("digest", crypto_util.Digest(cmd.Data)))

	reply, err := s.channel.Exchange(ctx, raw)
	if err != nil {
		return apdu.Response{}, fmt.Errorf("exchange with %s: %w", s.device.Name, err)
	}
	resp, err := apdu.ParseResponse(reply)
	if err != nil {
		return apdu.Response{}, err
	}
	monitor.Device.ObserveApdu(s.transport, resp.StatusWord)

	if apdu.IsStatus(resp.Err(), apdu.SwDeviceLocked) {
		s.setStatus(StatusLocked)
	}
	s.log.Debug("APDU <=",
		zap.String("session_id", string(s.id)),
		zap.String("sw", fmt.Sprintf("%04x", resp.StatusWord)),
		zap.Int("len", len(resp.Data)))
	return resp, nil
}

// waitIdle 轮询等待会话锁，拿到返回 true；ctx 结束返回 false 且不留下等待者
func (s *session) waitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if s.mu.TryLock() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (s *session) closed() bool {
	return s.isClosed.Load()
}

func (s *session) snapshot() DeviceSessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *session) setStatus(status DeviceStatus) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	// 锁定状态只有在下一次成功读取 App 后才清除
	if s.state.Status == StatusLocked && status == StatusConnected {
		return
	}
	s.state.Status = status
}

func (s *session) setApp(app AppAndVersion) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state.AppName = app.Name
	s.state.AppVersion = app.Version
	if s.state.Status == StatusLocked {
		s.state.Status = StatusConnected
	}
}

// startRefresher 定时查询当前 App，保持会话状态最新
func (s *session) startRefresher(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.refresherCancel = cancel
	s.refresherDone = make(chan struct{})

	go func() {
		defer close(s.refresherDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refresh(ctx, interval)
			}
		}
	}()
}

func (s *session) refresh(ctx context.Context, interval time.Duration) {
	// 设备正忙 (等待用户确认等) 时跳过本轮
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	if s.closed() || !s.devLock.tryAcquire() {
		return
	}
	defer s.devLock.release()

	ctx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	app, err := RunCommand(ctx, s, GetAppAndVersionCommand{}).Unwrap()
	if err != nil {
		s.log.Debug("会话刷新失败", zap.String("session_id", string(s.id)), zap.Error(err))
		return
	}
	s.setApp(app)
}

func (s *session) stopRefresher() {
	s.isClosed.Store(true)
	if s.refresherCancel != nil {
		s.refresherCancel()
		<-s.refresherDone
	}
}
