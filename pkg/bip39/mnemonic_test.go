package bip39

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateMnemonicWords(t *testing.T) {
	service := NewMnemonicService()

	tests := []struct {
		words   int
		wantErr bool
	}{
		{12, false},
		{24, false},
		{13, true},
		{27, true},
	}
	for _, tt := range tests {
		mnemonic, err := service.GenerateMnemonicWords(tt.words)
		if tt.wantErr {
			assert.Error(t, err, "words=%d", tt.words)
			continue
		}
		if err != nil {
			t.Fatalf("生成 %d 词助记词失败: %v", tt.words, err)
		}
		assert.Len(t, strings.Fields(mnemonic), tt.words)
		assert.True(t, service.ValidateMnemonic(mnemonic))
	}
}

func TestMnemonicToSeed(t *testing.T) {
	service := NewMnemonicService()

	// 已知的测试向量 (Test Vector)
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	expectedSeedHex := "5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc19a5ac40b389cd370d086206dec8aa6c43daea6690f20ad3d8d48b2d2ce9e38e4"

	seed, err := service.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("测试向量助记词无效: %v", err)
	}
	assert.Equal(t, expectedSeedHex, hex.EncodeToString(seed))

	// 多余的空白不影响结果
	messy := "  abandon abandon abandon abandon abandon abandon\n abandon abandon abandon abandon abandon about "
	assert.Equal(t, expectedSeedHex, hex.EncodeToString(service.MnemonicToSeed(messy, "")))
}

func TestSeedFromMnemonic_Invalid(t *testing.T) {
	service := NewMnemonicService()

	invalidMnemonic := "hello world invalid mnemonic phrase designed to fail validation check"
	assert.False(t, service.ValidateMnemonic(invalidMnemonic))

	_, err := service.SeedFromMnemonic(invalidMnemonic, "")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}
