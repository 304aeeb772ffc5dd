package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"signer-core/internal/bootstrap"
	"signer-core/internal/service"
	"signer-core/internal/transport/emulator"
	"signer-core/pkg/errno"

	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:       "demo <ethereum|bitcoin|solana>",
	Short:     "连接设备，完成一轮地址、签名、验证与交易签名",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{service.ChainEthereum, service.ChainBitcoin, service.ChainSolana},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		interactive, _ := cmd.Flags().GetBool("interactive")

		var opts []emulator.DeviceOption
		if interactive {
			opts = append(opts, emulator.WithApprover(promptApprover(os.Stdin, os.Stdout)))
		}
		m, err := bootstrap.NewManager(cfg, opts...)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		defer m.Close(context.Background())

		services, err := bootstrap.NewServices(ctx, cfg, m)
		if err != nil {
			return err
		}
		bench, err := services.Registry().Get(args[0])
		if err != nil {
			return err
		}
		return runDemo(ctx, bench, cmd.OutOrStdout())
	},
}

// runDemo 依次执行连接、签名、验证、结构化签名 (仅以太坊) 和交易签名
func runDemo(ctx context.Context, bench *service.Workbench, out io.Writer) error {
	// 1. 连接
	st, err := bench.Connect(ctx)
	if err != nil {
		return err
	}
	defer bench.Disconnect(context.Background())
	fmt.Fprintf(out, "会话:     %s\n", st.SessionID)
	if st.Device != nil {
		fmt.Fprintf(out, "设备:     %s (%s %s)\n", st.Device.Device.Name, st.Device.AppName, st.Device.AppVersion)
	}
	fmt.Fprintf(out, "地址:     %s\n", st.Address)

	// 2. 签名 + 验证
	st, err = bench.SignMessage(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "消息:     %s\n", st.Message)
	fmt.Fprintf(out, "签名:     %s\n", st.Signature)
	fmt.Fprintf(out, "验证:     %v\n", st.Valid)

	// 3. EIP-712
	st, err = bench.SignTypedData(ctx)
	switch {
	case err == nil:
		fmt.Fprintf(out, "EIP-712:  %s (valid=%v)\n", st.TypedDataSignature, st.TypedDataValid)
	case !errors.Is(err, errno.ErrUnsupportedOperation):
		return err
	}

	// 4. 交易 (只签名不广播)
	st, err = bench.SignTransaction(ctx)
	if err != nil {
		if service.IsDeviceError(err) {
			return err
		}
		fmt.Fprintf(out, "交易:     跳过 (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "交易:     %s\n", st.Transaction)
	return nil
}

// promptApprover 在终端上逐个确认设备操作
func promptApprover(in io.Reader, out io.Writer) emulator.Approver {
	reader := bufio.NewReader(in)
	return func(req emulator.ApprovalRequest) bool {
		fmt.Fprintf(out, "\n[%s] %s\n%s\n确认? (y/N): ", req.App, req.Operation, req.Summary)
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(strings.ToLower(line))
		return line == "y" || line == "yes"
	}
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().BoolP("interactive", "i", false, "在终端确认每个设备操作 (仅模拟器)")
}
