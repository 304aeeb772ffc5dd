package dmk

import (
	"context"
	"errors"
	"fmt"

	"signer-core/pkg/apdu"
)

// Exchanger 发送一条 APDU 并返回解析后的应答
type Exchanger interface {
	Exchange(ctx context.Context, cmd apdu.Command) (apdu.Response, error)
}

// Command 一条带类型化结果的设备指令
type Command[T any] interface {
	Apdu() (apdu.Command, error)
	Parse(resp apdu.Response) (T, error)
}

// CommandResultStatus 指令执行结果
type CommandResultStatus string

const (
	CommandSuccess CommandResultStatus = "SUCCESS"
	CommandError   CommandResultStatus = "ERROR"
)

// CommandResult 单条指令的结果: Success(data) | Error(err)
type CommandResult[T any] struct {
	Status CommandResultStatus
	Data   T
	Err    error
}

func (r CommandResult[T]) IsSuccess() bool {
	return r.Status == CommandSuccess
}

// Unwrap 转换为 Go 风格的 (data, err)
func (r CommandResult[T]) Unwrap() (T, error) {
	return r.Data, r.Err
}

func commandError[T any](err error) CommandResult[T] {
	return CommandResult[T]{Status: CommandError, Err: err}
}

// RunCommand 在已持有的 Exchanger 上执行指令，设备动作内部使用
func RunCommand[T any](ctx context.Context, ex Exchanger, cmd Command[T]) CommandResult[T] {
	raw, err := cmd.Apdu()
	if err != nil {
		return commandError[T](err)
	}
	resp, err := ex.Exchange(ctx, raw)
	if err != nil {
		return commandError[T](err)
	}
	if err := resp.Err(); err != nil {
		return commandError[T](err)
	}
	data, err := cmd.Parse(resp)
	if err != nil {
		return commandError[T](fmt.Errorf("parse response of ins 0x%02x: %w", raw.INS, err))
	}
	return CommandResult[T]{Status: CommandSuccess, Data: data}
}

// SendCommand 通过会话发送一条指令
func SendCommand[T any](ctx context.Context, m *Manager, id SessionID, cmd Command[T]) CommandResult[T] {
	var result CommandResult[T]
	err := m.Execute(ctx, id, func(ctx context.Context, ex Exchanger) error {
		result = RunCommand(ctx, ex, cmd)
		return nil
	})
	if err != nil {
		return commandError[T](err)
	}
	return result
}

// ---------------------------------------------------------------------------
// 系统指令 (Dashboard / BOLOS)
// ---------------------------------------------------------------------------

// DashboardAppName 没有打开任何 App 时设备返回的名称
const DashboardAppName = "BOLOS"

// AppAndVersion GET_APP_AND_VERSION 的结果
type AppAndVersion struct {
	Name    string
	Version string
	Flags   []byte
}

// GetAppAndVersionCommand B0 01 00 00
type GetAppAndVersionCommand struct{}

func (GetAppAndVersionCommand) Apdu() (apdu.Command, error) {
	return apdu.Command{CLA: 0xb0, INS: 0x01}, nil
}

// Parse format(1) | nameLen | name | versionLen | version | flagsLen | flags
func (GetAppAndVersionCommand) Parse(resp apdu.Response) (AppAndVersion, error) {
	data := resp.Data
	if len(data) < 1 || data[0] != 0x01 {
		return AppAndVersion{}, errors.New("unknown app-and-version format")
	}
	data = data[1:]

	name, data, err := readLV(data)
	if err != nil {
		return AppAndVersion{}, fmt.Errorf("app name: %w", err)
	}
	version, data, err := readLV(data)
	if err != nil {
		return AppAndVersion{}, fmt.Errorf("app version: %w", err)
	}
	out := AppAndVersion{Name: string(name), Version: string(version)}
	if len(data) > 0 {
		flags, _, err := readLV(data)
		if err == nil {
			out.Flags = flags
		}
	}
	return out, nil
}

// OpenAppCommand E0 D8 00 00 <name>
type OpenAppCommand struct {
	AppName string
}

func (c OpenAppCommand) Apdu() (apdu.Command, error) {
	if c.AppName == "" {
		return apdu.Command{}, errors.New("app name required")
	}
	return apdu.Command{CLA: 0xe0, INS: 0xd8, Data: []byte(c.AppName)}, nil
}

func (OpenAppCommand) Parse(apdu.Response) (struct{}, error) {
	return struct{}{}, nil
}

// CloseAppCommand B0 A7 00 00，退回 Dashboard
type CloseAppCommand struct{}

func (CloseAppCommand) Apdu() (apdu.Command, error) {
	return apdu.Command{CLA: 0xb0, INS: 0xa7}, nil
}

func (CloseAppCommand) Parse(apdu.Response) (struct{}, error) {
	return struct{}{}, nil
}

// readLV 读取 length(1) | value
func readLV(data []byte) ([]byte, []byte, error) {
	if len(data) < 1 {
		return nil, nil, errors.New("missing length byte")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return nil, nil, errors.New("value truncated")
	}
	return data[1 : 1+n], data[1+n:], nil
}
