package dmk

import (
	"context"
	"errors"
	"fmt"

	"signer-core/pkg/apdu"
)

// DeviceActionStatus 设备动作状态
type DeviceActionStatus string

const (
	ActionPending   DeviceActionStatus = "pending"
	ActionCompleted DeviceActionStatus = "completed"
	ActionError     DeviceActionStatus = "error"
)

// UserInteraction 动作进行中需要用户在设备上完成的操作
type UserInteraction string

const (
	InteractionNone                UserInteraction = "None"
	InteractionUnlockDevice        UserInteraction = "UnlockDevice"
	InteractionConfirmOpenApp      UserInteraction = "ConfirmOpenApp"
	InteractionVerifyAddress       UserInteraction = "VerifyAddress"
	InteractionSignPersonalMessage UserInteraction = "SignPersonalMessage"
	InteractionSignTypedData       UserInteraction = "SignTypedData"
	InteractionSignTransaction     UserInteraction = "SignTransaction"
)

// DeviceActionState 动作推送的事件
type DeviceActionState[T any] struct {
	Status      DeviceActionStatus
	Interaction UserInteraction
	Output      T
	Err         error
}

// Terminal 是否为终止事件
func (s DeviceActionState[T]) Terminal() bool {
	return s.Status == ActionCompleted || s.Status == ActionError
}

// DeviceAction 一个运行中的设备动作，事件流以 Completed 或 Error 结束
type DeviceAction[T any] struct {
	events chan DeviceActionState[T]
	cancel context.CancelFunc
}

// Observe 事件流，终止事件之后关闭
func (a *DeviceAction[T]) Observe() <-chan DeviceActionState[T] {
	return a.events
}

// Cancel 取消动作 (不会撤回已发送给设备的 APDU)
func (a *DeviceAction[T]) Cancel() {
	a.cancel()
}

// Notifier 动作执行过程中上报需要的用户操作
type Notifier func(UserInteraction)

// ActionFunc 动作主体，独占会话执行
type ActionFunc[T any] func(ctx context.Context, ex Exchanger, notify Notifier) (T, error)

// NewDeviceAction 在会话上启动一个动作。
// 先推送 Pending，主体完成后推送 Completed 或 Error，然后关闭事件流。
func NewDeviceAction[T any](ctx context.Context, m *Manager, id SessionID, fn ActionFunc[T]) *DeviceAction[T] {
	ctx, cancel := context.WithCancel(ctx)
	a := &DeviceAction[T]{
		events: make(chan DeviceActionState[T], 8),
		cancel: cancel,
	}

	send := func(st DeviceActionState[T]) {
		select {
		case a.events <- st:
		case <-ctx.Done():
		}
	}

	// 终止事件优先写入缓冲区，订阅方已取消时才丢弃
	finish := func(st DeviceActionState[T]) {
		select {
		case a.events <- st:
			return
		default:
		}
		send(st)
	}

	go func() {
		defer cancel()
		defer close(a.events)

		send(DeviceActionState[T]{Status: ActionPending, Interaction: InteractionNone})

		var out T
		err := m.Execute(ctx, id, func(ctx context.Context, ex Exchanger) error {
			var err error
			out, err = fn(ctx, ex, func(ui UserInteraction) {
				send(DeviceActionState[T]{Status: ActionPending, Interaction: ui})
			})
			return err
		})

		if err != nil {
			finish(DeviceActionState[T]{Status: ActionError, Err: err})
			return
		}
		finish(DeviceActionState[T]{Status: ActionCompleted, Output: out})
	}()
	return a
}

// Result 设备动作的最终结果: Completed(output) | Error(reason)
type Result[T any] struct {
	Status DeviceActionStatus
	Output T
	Err    error
}

func (r Result[T]) Completed() bool {
	return r.Status == ActionCompleted
}

// Unwrap 转换为 Go 风格的 (output, err)
func (r Result[T]) Unwrap() (T, error) {
	if r.Status != ActionCompleted && r.Err == nil {
		return r.Output, errors.New("device action did not complete")
	}
	return r.Output, r.Err
}

// Await 订阅事件流，取第一个终止事件后取消订阅
func Await[T any](ctx context.Context, a *DeviceAction[T]) Result[T] {
	defer a.Cancel()
	for {
		select {
		case <-ctx.Done():
			return Result[T]{Status: ActionError, Err: ctx.Err()}
		case st, ok := <-a.Observe():
			if !ok {
				return Result[T]{Status: ActionError, Err: errors.New("device action stream closed without result")}
			}
			if st.Terminal() {
				return Result[T]{Status: st.Status, Output: st.Output, Err: st.Err}
			}
		}
	}
}

// Failed 构造一个立即失败的动作，用于参数校验等前置错误
func Failed[T any](err error) *DeviceAction[T] {
	a := &DeviceAction[T]{
		events: make(chan DeviceActionState[T], 1),
		cancel: func() {},
	}
	a.events <- DeviceActionState[T]{Status: ActionError, Err: err}
	close(a.events)
	return a
}

// EnsureApp 确保设备上打开的是指定 App，必要时先退回 Dashboard 再打开
func EnsureApp(ctx context.Context, ex Exchanger, notify Notifier, appName string) error {
	current, err := RunCommand(ctx, ex, GetAppAndVersionCommand{}).Unwrap()
	if err != nil {
		if apdu.IsStatus(err, apdu.SwDeviceLocked) {
			notify(InteractionUnlockDevice)
		}
		return fmt.Errorf("get current app: %w", err)
	}
	if s, ok := ex.(*session); ok {
		s.setApp(current)
	}
	if current.Name == appName {
		return nil
	}

	if current.Name != DashboardAppName {
		if _, err := RunCommand(ctx, ex, CloseAppCommand{}).Unwrap(); err != nil {
			return fmt.Errorf("close app %s: %w", current.Name, err)
		}
	}

	notify(InteractionConfirmOpenApp)
	if _, err := RunCommand(ctx, ex, OpenAppCommand{AppName: appName}).Unwrap(); err != nil {
		return fmt.Errorf("open app %s: %w", appName, err)
	}

	opened, err := RunCommand(ctx, ex, GetAppAndVersionCommand{}).Unwrap()
	if err != nil {
		return fmt.Errorf("verify opened app: %w", err)
	}
	if s, ok := ex.(*session); ok {
		s.setApp(opened)
	}
	if opened.Name != appName {
		return fmt.Errorf("expected app %s, device runs %s", appName, opened.Name)
	}
	return nil
}
