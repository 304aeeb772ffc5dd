package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 按错误码比较，errors.Is(err, errno.ErrSignerNotConnected) 可以穿透 %w 包装
func (e Errno) Is(target error) bool {
	var t Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMessage 保留错误码，替换提示信息
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: e.Message + ": " + msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		if typed.Message != err.Error() {
			return typed.Code, err.Error()
		}
		return typed.Code, typed.Message
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrTooManyRequests  = Errno{Code: 10003, Message: "Too many requests"}
)

// Business Errors (20000+)
var (
	ErrSignerNotConnected   = Errno{Code: 20101, Message: "Ledger is not connected yet"}
	ErrDeviceNotFound       = Errno{Code: 20102, Message: "No device discovered"}
	ErrDeviceAction         = Errno{Code: 20103, Message: "Device action failed"}
	ErrDeniedByUser         = Errno{Code: 20104, Message: "Rejected on device"}
	ErrDeviceBusy           = Errno{Code: 20105, Message: "Device is busy with another request"}
	ErrUnsupportedChain     = Errno{Code: 20201, Message: "Unsupported chain"}
	ErrUnsupportedOperation = Errno{Code: 20202, Message: "Operation not supported on this chain"}
	ErrChainBackend         = Errno{Code: 20301, Message: "Chain backend error"}
)
