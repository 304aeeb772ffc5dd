package bip39

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic 助记词校验和或单词表不匹配
var ErrInvalidMnemonic = errors.New("无效的助记词")

// MnemonicService 提供助记词相关的功能，模拟设备和 CLI 都通过它获得种子
type MnemonicService struct{}

// NewMnemonicService 创建一个新的助记词服务实例
func NewMnemonicService() *MnemonicService {
	return &MnemonicService{}
}

// GenerateMnemonic 生成一个新的随机助记词 (BIP-39)。
// bitSize: 熵的位数，128 (12 个单词) 到 256 (24 个单词)，必须是 32 的倍数。
func (s *MnemonicService) GenerateMnemonic(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", fmt.Errorf("生成熵失败: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("生成助记词失败: %w", err)
	}
	return mnemonic, nil
}

// GenerateMnemonicWords 按单词数生成助记词 (12/15/18/21/24)
func (s *MnemonicService) GenerateMnemonicWords(words int) (string, error) {
	if words < 12 || words > 24 || words%3 != 0 {
		return "", fmt.Errorf("不支持的单词数: %d", words)
	}
	return s.GenerateMnemonic(words / 3 * 32)
}

// ValidateMnemonic 验证助记词是否有效。
func (s *MnemonicService) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalize(mnemonic))
}

// MnemonicToSeed 将助记词转换为种子 (BIP-39 Seed)，不做校验。
// password: 可选的密码 (Passphrase)，即 "第25个单词"。不需要时传空字符串 ""。
func (s *MnemonicService) MnemonicToSeed(mnemonic string, password string) []byte {
	return bip39.NewSeed(normalize(mnemonic), password)
}

// SeedFromMnemonic 校验助记词后再生成种子，设备加载种子时使用
func (s *MnemonicService) SeedFromMnemonic(mnemonic string, password string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(normalize(mnemonic), password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}

// normalize 去掉多余空白，配置文件里的助记词经常带换行
func normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
