package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DemoTypedData Person{name, wallet} 示例结构化数据
func DemoTypedData(chainID int64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Person": {
				{Name: "name", Type: "string"},
				{Name: "wallet", Type: "address"},
			},
		},
		PrimaryType: "Person",
		Domain: apitypes.TypedDataDomain{
			Name:    "Ethereum App",
			Version: "1",
			ChainId: (*math.HexOrDecimal256)(big.NewInt(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"name":   "Burner",
			"wallet": "0x0000000000000000000000000000000000000000",
		},
	}
}

// RecoverAddress 从 hash 与 r||s||v 签名恢复地址，v 可为 0/1 或 27/28
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalMessage EIP-191 签名是否来自 addr
func VerifyPersonalMessage(addr string, message, sig []byte) bool {
	return recoversTo(accounts.TextHash(message), sig, addr)
}

// VerifyTypedData EIP-712 签名是否来自 addr
func VerifyTypedData(addr string, typedData apitypes.TypedData, sig []byte) bool {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return false
	}
	return recoversTo(hash, sig, addr)
}

func recoversTo(hash, sig []byte, addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	got, err := RecoverAddress(hash, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(got.Hex(), common.HexToAddress(addr).Hex())
}
