package bip32

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// HardenedKeyStart 硬化派生的起始索引 (2^31)
const HardenedKeyStart = hdkeychain.HardenedKeyStart

// ParsePath 解析派生路径为索引列表
// 支持格式: m/44'/0'/0'/0/0, 44'/0'/0'/0/0 或 m/44h/0h/0h/0/0
func ParsePath(path string) ([]uint32, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "m")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return []uint32{}, nil
	}

	segments := strings.Split(path, "/")
	indices := make([]uint32, 0, len(segments))
	for _, segment := range segments {
		hardened := false
		if strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h") {
			hardened = true
			segment = segment[:len(segment)-1]
		}

		val, err := strconv.ParseUint(segment, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: 无效的路径段 '%s'", ErrInvalidPath, segment)
		}
		index := uint32(val)
		if hardened {
			if index >= HardenedKeyStart {
				return nil, fmt.Errorf("%w: 索引越界 '%s'", ErrInvalidPath, segment)
			}
			index += HardenedKeyStart
		}
		indices = append(indices, index)
	}
	return indices, nil
}

// MustParsePath 用于常量路径
func MustParsePath(path string) []uint32 {
	indices, err := ParsePath(path)
	if err != nil {
		panic(err)
	}
	return indices
}

// FormatPath 将索引列表格式化为 44'/0'/0'/0/0 形式 (不带 m/ 前缀)
func FormatPath(indices []uint32) string {
	parts := make([]string, len(indices))
	for i, index := range indices {
		if index >= HardenedKeyStart {
			parts[i] = strconv.FormatUint(uint64(index-HardenedKeyStart), 10) + "'"
		} else {
			parts[i] = strconv.FormatUint(uint64(index), 10)
		}
	}
	return strings.Join(parts, "/")
}

// HasPrefix 判断 path 是否以 prefix 开头
func HasPrefix(path, prefix []uint32) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
