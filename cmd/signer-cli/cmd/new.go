package cmd

import (
	"fmt"

	"signer-core/pkg/address"
	"signer-core/pkg/bip32"
	"signer-core/pkg/bip39"
	"signer-core/pkg/slip10"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/cobra"
)

// derived 一条链在默认路径上的地址
type derived struct {
	Chain   string
	Path    string
	Address string
}

// deriveAddresses 按设备使用的默认路径离线派生地址，用于核对设备返回的结果
func deriveAddresses(mnemonic string) ([]derived, error) {
	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	wallet, err := bip32.NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	var out []derived

	// 1. Ethereum: m/44'/60'/0'/0/0
	ethPath := "44'/60'/0'/0/0"
	ethKey, err := wallet.DerivePath(ethPath)
	if err != nil {
		return nil, err
	}
	ethPub, err := ethKey.(*bip32.BTCKeychain).ECPubKey()
	if err != nil {
		return nil, err
	}
	ethAddr, err := address.NewETHGenerator().PubKeyToAddress(ethPub.SerializeUncompressed())
	if err != nil {
		return nil, err
	}
	out = append(out, derived{Chain: "ethereum", Path: ethPath, Address: ethAddr})

	// 2. Bitcoin: m/84'/0'/0'/0/0 (P2WPKH)
	btcPath := "84'/0'/0'/0/0"
	btcKey, err := wallet.DerivePath(btcPath)
	if err != nil {
		return nil, err
	}
	btcPub, err := btcKey.(*bip32.BTCKeychain).ECPubKey()
	if err != nil {
		return nil, err
	}
	btcAddr, err := address.NewBTCGenerator(&chaincfg.MainNetParams).PubKeyToAddress(btcPub.SerializeCompressed())
	if err != nil {
		return nil, err
	}
	out = append(out, derived{Chain: "bitcoin", Path: btcPath, Address: btcAddr})

	// 3. Solana: m/44'/501'/0'/0' (SLIP-0010 ed25519)
	solPath := "44'/501'/0'/0'"
	master, err := slip10.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	solAddr, err := address.NewSOLGenerator().PubKeyToAddress(master.DerivePath(bip32.MustParsePath(solPath)).PublicKey())
	if err != nil {
		return nil, err
	}
	out = append(out, derived{Chain: "solana", Path: solPath, Address: solAddr})

	return out, nil
}

// newCmd 代表 new 命令
var newCmd = &cobra.Command{
	Use:   "new",
	Short: "生成助记词并显示各链默认地址",
	Long:  `生成一个新的随机 BIP-39 助记词 (或使用 --mnemonic 指定)，显示设备默认路径上的 ETH/BTC/SOL 地址。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mnemonic, _ := cmd.Flags().GetString("mnemonic")
		words, _ := cmd.Flags().GetInt("words")

		// 1. 生成助记词
		service := bip39.NewMnemonicService()
		if mnemonic == "" {
			var err error
			if mnemonic, err = service.GenerateMnemonicWords(words); err != nil {
				return err
			}
			fmt.Printf("助记词 (Mnemonic): \n%s\n", mnemonic)
			fmt.Println("---------------------------------------------------")
		} else if !service.ValidateMnemonic(mnemonic) {
			return fmt.Errorf("无效的助记词")
		}

		// 2. 派生地址
		addrs, err := deriveAddresses(mnemonic)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Printf("%-9s [%s]: %s\n", a.Chain, a.Path, a.Address)
		}
		fmt.Println("---------------------------------------------------")
		fmt.Println("请妥善保管您的助记词！任何拥有助记词的人都可以控制该钱包的所有资产。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().Int("words", 24, "助记词单词数 (12/15/18/21/24)")
	newCmd.Flags().String("mnemonic", "", "使用已有助记词，只显示地址")
}
