package address

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// BTCGenerator 比特币地址生成器
type BTCGenerator struct {
	network *chaincfg.Params
}

func NewBTCGenerator(network *chaincfg.Params) *BTCGenerator {
	if network == nil {
		network = &chaincfg.MainNetParams
	}
	return &BTCGenerator{network: network}
}

// PubKeyToAddress 将公钥字节 (压缩格式) 转换为原生隔离见证 P2WPKH 地址 (bc1q...)
func (g *BTCGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	addr, err := g.WitnessAddress(pubKeyBytes)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// WitnessAddress 返回 P2WPKH 地址对象，构造输出脚本时使用
func (g *BTCGenerator) WitnessAddress(pubKeyBytes []byte) (*btcutil.AddressWitnessPubKeyHash, error) {
	pub, err := btcutil.NewAddressPubKey(pubKeyBytes, g.network)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.ScriptAddress()), g.network)
}

// LegacyAddress P2PKH 地址 (1...)
func (g *BTCGenerator) LegacyAddress(pubKeyBytes []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKey(pubKeyBytes, g.network)
	if err != nil {
		return "", err
	}
	return addr.AddressPubKeyHash().EncodeAddress(), nil
}
