package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "8080", c.App.HttpPort)
	assert.Equal(t, "emulator", c.Device.Transport)
	assert.Equal(t, 30*time.Second, c.Device.ConnectTimeout)
	assert.Zero(t, c.Device.RefresherInterval)
	assert.True(t, c.Emulator.AutoApprove)
	assert.EqualValues(t, 11155111, c.Ethereum.ChainID)
	assert.Equal(t, "hello world", c.Solana.Memo)
}

func TestInitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  http_port: "9090"
device:
  transport: hid
  connect_timeout: 5s
bitcoin:
  network: testnet
`), 0o600))
	t.Setenv("EMULATOR_PASSWORD", "from-env")

	InitFile(path)
	assert.Equal(t, "9090", Global.App.HttpPort)
	assert.Equal(t, "hid", Global.Device.Transport)
	assert.Equal(t, 5*time.Second, Global.Device.ConnectTimeout)
	assert.Equal(t, "testnet", Global.Bitcoin.Network)
	assert.Equal(t, "from-env", Global.Emulator.Password)
	// 未覆盖的键保留默认值
	assert.Equal(t, "0.0001", Global.Ethereum.Amount)
}
