package dmk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signer-core/pkg/apdu"
	"signer-core/pkg/logger"
	"signer-core/pkg/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultDiscoveryInterval = 500 * time.Millisecond
	defaultRefresherInterval = time.Second
	idlePollInterval         = 5 * time.Millisecond
)

// Manager 设备管理器: 发现设备、管理会话、串行化 APDU 交互
type Manager struct {
	transports        map[string]Transport
	order             []string
	discoveryInterval time.Duration
	log               *zap.Logger

	mu       sync.RWMutex
	sessions map[SessionID]*session
	devices  map[string]deviceLock
}

// Option 构造参数
type Option func(*Manager)

// WithTransport 注册传输层，可多次调用
func WithTransport(t Transport) Option {
	return func(m *Manager) {
		if _, exists := m.transports[t.Identifier()]; !exists {
			m.order = append(m.order, t.Identifier())
		}
		m.transports[t.Identifier()] = t
	}
}

// WithDiscoveryInterval 设备轮询间隔
func WithDiscoveryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.discoveryInterval = d
		}
	}
}

// WithLogger 指定 logger，默认使用全局 logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager 创建设备管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		transports:        make(map[string]Transport),
		discoveryInterval: defaultDiscoveryInterval,
		sessions:          make(map[SessionID]*session),
		devices:           make(map[string]deviceLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("dmk")
	}
	return m
}

// ListDevices 对所有传输层做一次枚举
func (m *Manager) ListDevices(ctx context.Context) ([]DiscoveredDevice, error) {
	if len(m.order) == 0 {
		return nil, ErrNoTransport
	}
	var (
		devices []DiscoveredDevice
		errs    []error
	)
	for _, name := range m.order {
		found, err := m.transports[name].Enumerate(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		devices = append(devices, found...)
	}
	if len(devices) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return devices, nil
}

// StartDiscovering 持续轮询所有传输层，每个设备只推送一次。
// ctx 结束时关闭返回的 channel。
func (m *Manager) StartDiscovering(ctx context.Context) <-chan DiscoveredDevice {
	out := make(chan DiscoveredDevice)
	go func() {
		defer close(out)
		seen := make(map[string]bool)
		ticker := time.NewTicker(m.discoveryInterval)
		defer ticker.Stop()

		for {
			devices, err := m.ListDevices(ctx)
			if err != nil {
				m.log.Debug("设备枚举失败", zap.Error(err))
			}
			for _, d := range devices {
				key := d.Transport + "/" + d.ID
				if seen[key] {
					continue
				}
				seen[key] = true
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// Connect 打开会话
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (SessionID, error) {
	t, ok := m.transports[req.Device.Transport]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoTransport, req.Device.Transport)
	}

	ch, err := t.Open(ctx, req.Device)
	if err != nil {
		return "", fmt.Errorf("open device %s: %w", req.Device.ID, err)
	}

	s := &session{
		id:        SessionID(uuid.NewString()),
		device:    req.Device,
		transport: t.Identifier(),
		channel:   ch,
		state:     DeviceSessionState{Device: req.Device, Status: StatusConnected},
		log:       m.log,
		devLock:   m.lockFor(req.Device),
	}
	s.state.SessionID = s.id

	// 1. 先读一次当前 App，确认通道可用
	if err := s.devLock.acquire(ctx); err != nil {
		_ = ch.Close()
		return "", err
	}
	app, err := RunCommand(ctx, s, GetAppAndVersionCommand{}).Unwrap()
	s.devLock.release()
	if err != nil {
		_ = ch.Close()
		return "", fmt.Errorf("probe device: %w", err)
	}
	s.setApp(app)

	// 2. 会话刷新
	if !req.SessionRefresherOptions.IsRefresherDisabled {
		interval := req.SessionRefresherOptions.Interval
		if interval <= 0 {
			interval = defaultRefresherInterval
		}
		s.startRefresher(interval)
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	monitor.Device.SessionOpened()

	m.log.Info("设备会话已建立",
		zap.String("session_id", string(s.id)),
		zap.String("device", req.Device.Name),
		zap.String("transport", s.transport),
		zap.Bool("refresher", !req.SessionRefresherOptions.IsRefresherDisabled))
	return s.id, nil
}

// Disconnect 关闭会话。会话总是会被移除，关闭通道的错误仍会返回
func (m *Manager) Disconnect(ctx context.Context, id SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	monitor.Device.SessionClosed()

	s.stopRefresher()

	// 等待正在进行的动作结束，ctx 超时则强制关闭
	if s.waitIdle(ctx) {
		defer s.mu.Unlock()
	} else {
		m.log.Warn("等待设备空闲超时，强制关闭通道", zap.String("session_id", string(id)))
	}

	if err := s.channel.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	m.log.Info("设备会话已关闭", zap.String("session_id", string(id)))
	return nil
}

// Execute 独占会话和设备执行一组 APDU 交互 (例如分块签名)。
// 同一设备上的其它会话会等待；ctx 先结束则返回 ErrDeviceBusy。
func (m *Manager) Execute(ctx context.Context, id SessionID, fn func(ctx context.Context, ex Exchanger) error) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrSessionNotFound
	}
	if err := s.devLock.acquire(ctx); err != nil {
		return err
	}
	defer s.devLock.release()

	s.setStatus(StatusBusy)
	defer s.setStatus(StatusConnected)
	return fn(ctx, s)
}

// SendApdu 发送单条 APDU
func (m *Manager) SendApdu(ctx context.Context, id SessionID, cmd apdu.Command) (apdu.Response, error) {
	var resp apdu.Response
	err := m.Execute(ctx, id, func(ctx context.Context, ex Exchanger) error {
		var err error
		resp, err = ex.Exchange(ctx, cmd)
		return err
	})
	return resp, err
}

// GetDeviceSessionState 返回会话快照
func (m *Manager) GetDeviceSessionState(id SessionID) (DeviceSessionState, error) {
	s, err := m.session(id)
	if err != nil {
		return DeviceSessionState{}, err
	}
	return s.snapshot(), nil
}

// Sessions 当前所有会话 ID
func (m *Manager) Sessions() []SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close 关闭所有会话，服务退出时调用
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.Sessions() {
		if err := m.Disconnect(ctx, id); err != nil {
			m.log.Warn("关闭会话失败", zap.String("session_id", string(id)), zap.Error(err))
		}
	}
}

// lockFor 按 transport/设备 ID 取设备锁，同一设备的会话共用
func (m *Manager) lockFor(d DiscoveredDevice) deviceLock {
	key := d.Transport + "/" + d.ID
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.devices[key]
	if !ok {
		l = newDeviceLock()
		m.devices[key] = l
	}
	return l
}

func (m *Manager) session(id SessionID) (*session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}
