package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signer-core/internal/dmk"
	"signer-core/pkg/apdu"
	"signer-core/pkg/errno"
	"signer-core/pkg/logger"
	"signer-core/pkg/monitor"

	"go.uber.org/zap"
)

// runAction 等待设备动作结束，记录指标，并把错误归类到 errno
func runAction[T any](ctx context.Context, chain, operation string, action *dmk.DeviceAction[T]) (T, error) {
	start := time.Now()
	out, err := dmk.Await(ctx, action).Unwrap()
	monitor.Device.ObserveOperation(chain, operation, start, err)
	if err == nil {
		return out, nil
	}

	logger.Warn("设备操作失败",
		zap.String("chain", chain),
		zap.String("operation", operation),
		zap.Error(err))
	if apdu.IsStatus(err, apdu.SwDeniedByUser) {
		return out, fmt.Errorf("%w: %v", errno.ErrDeniedByUser, err)
	}
	if errors.Is(err, dmk.ErrDeviceBusy) {
		return out, fmt.Errorf("%w: %v", errno.ErrDeviceBusy, err)
	}
	return out, fmt.Errorf("%w: %v", errno.ErrDeviceAction, err)
}

// IsDeviceError 设备或传输层错误，会话需要重置。用户拒绝和设备忙不算。
func IsDeviceError(err error) bool {
	return errors.Is(err, errno.ErrDeviceAction)
}
