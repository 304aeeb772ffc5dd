package apdu

import (
	"errors"
	"fmt"
)

// 常见状态字
const (
	SwOK                 uint16 = 0x9000
	SwDeniedByUser       uint16 = 0x6985
	SwInvalidData        uint16 = 0x6A80
	SwWrongP1P2          uint16 = 0x6B00
	SwWrongLength        uint16 = 0x6700
	SwInsNotSupported    uint16 = 0x6D00
	SwClaNotSupported    uint16 = 0x6E00
	SwDeviceLocked       uint16 = 0x5515
	SwAppNotFound        uint16 = 0x6807
	SwConditionsNotMet   uint16 = 0x6986
	SwWrongAppForCommand uint16 = 0x6511
)

var statusText = map[uint16]string{
	SwDeniedByUser:       "denied by user",
	SwInvalidData:        "invalid data",
	SwWrongP1P2:          "wrong p1/p2",
	SwWrongLength:        "wrong length",
	SwInsNotSupported:    "instruction not supported",
	SwClaNotSupported:    "class not supported",
	SwDeviceLocked:       "device locked",
	SwAppNotFound:        "app not installed",
	SwConditionsNotMet:   "conditions of use not satisfied",
	SwWrongAppForCommand: "wrong app opened",
}

// StatusError 设备返回了非成功状态字
type StatusError struct {
	StatusWord uint16
}

func (e *StatusError) Error() string {
	if text, ok := statusText[e.StatusWord]; ok {
		return fmt.Sprintf("device status 0x%04X: %s", e.StatusWord, text)
	}
	return fmt.Sprintf("device status 0x%04X", e.StatusWord)
}

// IsStatus 判断错误链中是否包含指定状态字
func IsStatus(err error, sw uint16) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusWord == sw
}
