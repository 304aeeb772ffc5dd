package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"signer-core/pkg/bip39"
	"signer-core/pkg/keystore"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "生成模拟器种子文件 (助记词加密保存)",
	Long: `生成新的 BIP-39 助记词 (或通过 --import 导入已有助记词)，使用密码加密后保存为 JSON 文件。
在配置中设置 emulator.keystore_path 与 EMULATOR_PASSWORD 后，模拟器从该文件加载种子。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")
		label, _ := cmd.Flags().GetString("label")
		importMnemonic, _ := cmd.Flags().GetBool("import")
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("文件 %s 已存在，请先删除或指定其他文件名", outputFile)
		}
		reader := bufio.NewReader(os.Stdin)

		// 1. 助记词
		service := bip39.NewMnemonicService()
		var mnemonic string
		if importMnemonic {
			fmt.Print("输入助记词: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("读取助记词失败: %w", err)
			}
			mnemonic = strings.Join(strings.Fields(line), " ")
			if !service.ValidateMnemonic(mnemonic) {
				return fmt.Errorf("无效的助记词")
			}
		} else {
			var err error
			if mnemonic, err = service.GenerateMnemonicWords(12); err != nil {
				return err
			}
		}

		// 2. 输入密码
		fmt.Println("请设置一个强密码来保护您的助记词。")
		password, err := readPassword("输入密码: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("确认密码: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("两次输入的密码不一致")
		}
		if len(password) < 6 {
			return fmt.Errorf("密码长度至少需要 6 位")
		}

		// 3. 加密并保存
		fmt.Println("正在加密保存...")
		encrypted, err := keystore.EncryptMnemonic(mnemonic, password, label)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := encrypted.SaveToFile(outputFile); err != nil {
			return fmt.Errorf("保存文件失败: %w", err)
		}

		fmt.Printf("\n✅ 种子文件已生成\n")
		fmt.Printf("文件位置: %s\n", outputFile)
		fmt.Printf("ID: %s\n", encrypted.Id)
		fmt.Println("\n⚠️  警告: 请务必记住您的密码！如果丢失密码，您将无法恢复种子。")

		if importMnemonic {
			return nil
		}
		fmt.Print("\n是否需要现在显示助记词以便备份? (y/N): ")
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(strings.ToLower(input))
		if input == "y" || input == "yes" {
			fmt.Println("\n---------------------------------------------------")
			fmt.Println("助记词 (请抄写在纸上并安全保管):")
			fmt.Println(mnemonic)
			fmt.Println("---------------------------------------------------")
		}
		return nil
	},
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringP("output", "o", "emulator-seed.json", "输出的种子文件名")
	initCmd.Flags().String("label", "", "设备显示名 (模拟器使用)")
	initCmd.Flags().Bool("import", false, "导入已有助记词而不是生成新的")
}
