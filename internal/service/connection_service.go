package service

import (
	"context"
	"fmt"
	"time"

	"signer-core/internal/dmk"
	"signer-core/pkg/errno"
	"signer-core/pkg/logger"

	"go.uber.org/zap"
)

const defaultConnectTimeout = 30 * time.Second

// ConnectionService 发现并连接设备
type ConnectionService struct {
	manager   *dmk.Manager
	timeout   time.Duration
	refresher time.Duration
}

// NewConnectionService timeout 为等待第一台设备出现的最长时间
func NewConnectionService(m *dmk.Manager, timeout time.Duration) *ConnectionService {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &ConnectionService{manager: m, timeout: timeout}
}

// WithRefresher 打开会话刷新，interval <= 0 时保持关闭
func (s *ConnectionService) WithRefresher(interval time.Duration) *ConnectionService {
	s.refresher = interval
	return s
}

func (s *ConnectionService) Manager() *dmk.Manager {
	return s.manager
}

// Connect 接受第一台被发现的设备，默认不刷新会话。
// 失败时返回空会话和错误，不重试。
func (s *ConnectionService) Connect(ctx context.Context) (dmk.SessionID, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 1. 等待第一台设备
	var device dmk.DiscoveredDevice
	select {
	case d, ok := <-s.manager.StartDiscovering(discoverCtx):
		if !ok {
			return "", errno.ErrDeviceNotFound
		}
		device = d
	case <-discoverCtx.Done():
		return "", errno.ErrDeviceNotFound.WithMessage(discoverCtx.Err().Error())
	}

	// 2. 打开会话
	refresher := dmk.SessionRefresherOptions{IsRefresherDisabled: true}
	if s.refresher > 0 {
		refresher = dmk.SessionRefresherOptions{Interval: s.refresher}
	}
	id, err := s.manager.Connect(ctx, dmk.ConnectRequest{
		Device:                  device,
		SessionRefresherOptions: refresher,
	})
	if err != nil {
		logger.Error("连接设备失败", zap.String("device", device.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %v", errno.ErrDeviceAction, err)
	}
	logger.Info("设备已连接", zap.String("session", string(id)), zap.String("device", device.Name), zap.String("model", string(device.Model)))
	return id, nil
}

// Disconnect 无条件关闭会话，总是返回空会话
func (s *ConnectionService) Disconnect(ctx context.Context, id dmk.SessionID) dmk.SessionID {
	if id == "" {
		return ""
	}
	if err := s.manager.Disconnect(ctx, id); err != nil {
		logger.Warn("断开设备失败", zap.String("session", string(id)), zap.Error(err))
	}
	return ""
}
