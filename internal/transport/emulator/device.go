package emulator

import (
	"fmt"
	"sync"

	"signer-core/pkg/apdu"
	"signer-core/pkg/bip32"
	"signer-core/pkg/bip39"
	"signer-core/pkg/keystore"
	"signer-core/pkg/slip10"

	"github.com/btcsuite/btcd/chaincfg"
)

// ApprovalRequest 需要用户在设备屏幕上确认的操作
type ApprovalRequest struct {
	App       string
	Operation string
	Summary   string
}

// Approver 模拟用户按键: 返回 true 表示批准
type Approver func(req ApprovalRequest) bool

// AutoApprove 全部批准
func AutoApprove(ApprovalRequest) bool { return true }

// RejectAll 全部拒绝
func RejectAll(ApprovalRequest) bool { return false }

// app 设备上的一个应用
type app interface {
	name() string
	version() string
	handle(cmd apdu.Command) apdu.Response
	reset()
}

// Device 软件模拟的硬件签名设备 (类似 Speculos)，按 APDU 协议应答
type Device struct {
	Name  string
	Model string

	mu       sync.Mutex
	wallet   *bip32.Wallet
	edMaster *slip10.Key
	approver Approver
	locked   bool
	apps     map[string]app
	current  app
}

// DeviceOption 设备参数
type DeviceOption func(*Device)

// WithApprover 替换用户确认策略
func WithApprover(a Approver) DeviceOption {
	return func(d *Device) {
		d.approver = a
	}
}

// WithName 设备显示名
func WithName(name string) DeviceOption {
	return func(d *Device) {
		d.Name = name
	}
}

// WithModel 设备型号
func WithModel(model string) DeviceOption {
	return func(d *Device) {
		d.Model = model
	}
}

// NewDevice 从 BIP-39 种子创建模拟设备
func NewDevice(seed []byte, opts ...DeviceOption) (*Device, error) {
	wallet, err := bip32.NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("load secp256k1 master: %w", err)
	}
	edMaster, err := slip10.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("load ed25519 master: %w", err)
	}

	d := &Device{
		Name:     "Ledger Emulator",
		Model:    "nanoX",
		wallet:   wallet,
		edMaster: edMaster,
		approver: AutoApprove,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.apps = map[string]app{}
	for _, a := range []app{newEthereumApp(d), newBitcoinApp(d), newSolanaApp(d)} {
		d.apps[a.name()] = a
	}
	return d, nil
}

// NewDeviceFromMnemonic 从助记词创建
func NewDeviceFromMnemonic(mnemonic, passphrase string, opts ...DeviceOption) (*Device, error) {
	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return NewDevice(seed, opts...)
}

// NewDeviceFromKeystore 从加密的种子文件创建
func NewDeviceFromKeystore(path, password string, opts ...DeviceOption) (*Device, error) {
	ks, err := keystore.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	mnemonic, err := keystore.DecryptMnemonic(ks, password)
	if err != nil {
		return nil, err
	}
	if ks.Label != "" {
		opts = append([]DeviceOption{WithName(ks.Label)}, opts...)
	}
	return NewDeviceFromMnemonic(mnemonic, "", opts...)
}

// Lock 模拟设备锁屏
func (d *Device) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
}

// Unlock 模拟输入 PIN
func (d *Device) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

// CurrentApp 当前打开的应用名
func (d *Device) CurrentApp() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return dashboardName
	}
	return d.current.name()
}

// Exchange 处理一条原始 APDU，返回 data || SW
func (d *Device) Exchange(raw []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return status(apdu.SwWrongLength).Bytes()
	}
	return d.dispatch(cmd).Bytes()
}

func (d *Device) dispatch(cmd apdu.Command) apdu.Response {
	if d.locked {
		return status(apdu.SwDeviceLocked)
	}

	switch {
	case cmd.CLA == claDashboard && cmd.INS == insGetAppAndVersion:
		return d.appAndVersion()
	case cmd.CLA == claDashboard && cmd.INS == insQuitApp:
		if d.current != nil {
			d.current.reset()
			d.current = nil
		}
		return ok(nil)
	case cmd.CLA == claOpenApp && cmd.INS == insOpenApp && d.current == nil:
		target, found := d.apps[string(cmd.Data)]
		if !found {
			return status(apdu.SwAppNotFound)
		}
		if !d.approve("BOLOS", "open_app", target.name()) {
			return status(apdu.SwDeniedByUser)
		}
		target.reset()
		d.current = target
		return ok(nil)
	}

	if d.current == nil {
		return status(apdu.SwClaNotSupported)
	}
	return d.current.handle(cmd)
}

// appAndVersion format(1) | nameLen | name | versionLen | version | flagsLen | flags
func (d *Device) appAndVersion() apdu.Response {
	name, version := dashboardName, dashboardVersion
	if d.current != nil {
		name, version = d.current.name(), d.current.version()
	}
	data := []byte{0x01, byte(len(name))}
	data = append(data, name...)
	data = append(data, byte(len(version)))
	data = append(data, version...)
	data = append(data, 0x01, 0x00)
	return ok(data)
}

// approve 调用方已持有 d.mu
func (d *Device) approve(appName, op, summary string) bool {
	if d.approver == nil {
		return false
	}
	return d.approver(ApprovalRequest{App: appName, Operation: op, Summary: summary})
}

const (
	claDashboard        byte = 0xb0
	insGetAppAndVersion byte = 0x01
	insQuitApp          byte = 0xa7
	claOpenApp          byte = 0xe0
	insOpenApp          byte = 0xd8

	dashboardName    = "BOLOS"
	dashboardVersion = "2.2.3"
)

func ok(data []byte) apdu.Response {
	return apdu.Response{Data: data, StatusWord: apdu.SwOK}
}

func status(sw uint16) apdu.Response {
	return apdu.Response{StatusWord: sw}
}
