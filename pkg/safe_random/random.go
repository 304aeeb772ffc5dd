package safe_random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Reader 随机源，默认为 crypto/rand.Reader，测试中可替换为确定性来源。
var Reader io.Reader = rand.Reader

// GenerateRandomBytes 生成指定长度的安全随机字节切片。
// 随机源读取不足 n 字节时返回错误。
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, fmt.Errorf("生成随机字节失败: %w", err)
	}
	return b, nil
}

// GenerateRandomHexString 生成 n 字节随机数的 Hex 编码 (长度 2n)。
func GenerateRandomHexString(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DeviceSerial 生成模拟设备的序列号，形如 "EMU-1a2b3c4d"
func DeviceSerial(prefix string) (string, error) {
	suffix, err := GenerateRandomHexString(4)
	if err != nil {
		return "", err
	}
	return prefix + "-" + suffix, nil
}
