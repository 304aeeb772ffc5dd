package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"signer-core/internal/dmk/dmktest"
	"signer-core/internal/service"
	"signer-core/internal/transport/emulator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddresses(t *testing.T) {
	addrs, err := deriveAddresses(dmktest.Mnemonic)
	require.NoError(t, err)
	require.Len(t, addrs, 3)

	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addrs[0].Address)
	assert.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", addrs[1].Address)
	assert.Equal(t, "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk", addrs[2].Address)

	_, err = deriveAddresses("not a mnemonic")
	assert.Error(t, err)
}

func TestRunDemo(t *testing.T) {
	env := dmktest.NewEnv(t)
	conn := service.NewConnectionService(env.Manager, 0)

	var out bytes.Buffer
	bench := service.NewWorkbench(conn, service.NewEthereumService(env.Manager, nil))
	require.NoError(t, runDemo(context.Background(), bench, &out))

	text := out.String()
	assert.Contains(t, text, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	assert.Contains(t, text, "验证:     true")
	assert.Contains(t, text, "valid=true")
	assert.Contains(t, text, "跳过")
	assert.False(t, bench.State().Connected)
	assert.Empty(t, env.Manager.Sessions())

	// 比特币没有 EIP-712，交易使用固定手续费
	out.Reset()
	btc := service.NewWorkbench(conn, service.NewBitcoinService(env.Manager, nil, nil))
	require.NoError(t, runDemo(context.Background(), btc, &out))
	assert.NotContains(t, out.String(), "EIP-712")
	assert.NotContains(t, out.String(), "跳过")
}

func TestRunDemoRejected(t *testing.T) {
	env := dmktest.NewEnv(t, emulator.WithApprover(dmktest.OnlyOpenApps))
	bench := service.NewWorkbench(service.NewConnectionService(env.Manager, 0), service.NewSolanaService(env.Manager, nil))

	var out bytes.Buffer
	err := runDemo(context.Background(), bench, &out)
	assert.Error(t, err)
	assert.Empty(t, env.Manager.Sessions())
}

func TestPromptApprover(t *testing.T) {
	var out bytes.Buffer
	approve := promptApprover(strings.NewReader("y\nno\n"), &out)

	req := emulator.ApprovalRequest{App: "Ethereum", Operation: "sign_personal_message", Summary: "hello world"}
	assert.True(t, approve(req))
	assert.False(t, approve(req))
	// 输入结束视为拒绝
	assert.False(t, approve(req))
	assert.Contains(t, out.String(), "sign_personal_message")
}
