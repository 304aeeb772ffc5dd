package service

import (
	"context"
	"sync"

	"signer-core/internal/dmk"
	"signer-core/pkg/errno"
	"signer-core/pkg/logger"

	"go.uber.org/zap"
)

// WorkbenchState 一条链当前的会话与签名结果
type WorkbenchState struct {
	Chain              string                  `json:"chain"`
	SessionID          dmk.SessionID           `json:"session_id"`
	Connected          bool                    `json:"connected"`
	Address            string                  `json:"address"`
	Message            string                  `json:"message"`
	Signature          string                  `json:"signature"`
	Valid              bool                    `json:"valid"`
	TypedDataSignature string                  `json:"typed_data_signature,omitempty"`
	TypedDataValid     bool                    `json:"typed_data_valid,omitempty"`
	Transaction        string                  `json:"transaction,omitempty"`
	Device             *dmk.DeviceSessionState `json:"device,omitempty"`
}

// Workbench 单条链的有状态工作流: 连接、地址、签名、验证、交易
type Workbench struct {
	mu    sync.Mutex
	conn  *ConnectionService
	chain ChainService

	session   dmk.SessionID
	signer    Signer
	address   string
	signature string
	valid     bool
	typedSig  string
	typedOK   bool
	tx        string
}

func NewWorkbench(conn *ConnectionService, chain ChainService) *Workbench {
	return &Workbench{conn: conn, chain: chain}
}

func (w *Workbench) Chain() string {
	return w.chain.Chain()
}

// Connect 连接第一台设备并读取地址；已有会话时先断开
func (w *Workbench) Connect(ctx context.Context) (WorkbenchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session != "" {
		w.conn.Disconnect(ctx, w.session)
		w.resetLocked()
	}

	id, err := w.conn.Connect(ctx)
	if err != nil {
		return w.stateLocked(), err
	}
	w.session = id
	w.signer = w.chain.NewSigner(id)
	w.address = w.chain.ResolveAddress(ctx, w.signer, w.chain.Paths().Address)
	return w.stateLocked(), nil
}

// Disconnect 关闭会话并清空派生状态
func (w *Workbench) Disconnect(ctx context.Context) WorkbenchState {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.session = w.conn.Disconnect(ctx, w.session)
	w.resetLocked()
	return w.stateLocked()
}

// Address 重新读取地址
func (w *Workbench) Address(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.signer == nil {
		return "", errno.ErrSignerNotConnected
	}
	path := w.chain.Paths().Address
	addr := w.chain.ResolveAddress(ctx, w.signer, path)
	if addr == "" {
		err := errno.ErrDeviceAction.WithMessage("resolve " + path)
		w.failLocked(ctx, err)
		return "", err
	}
	w.address = addr
	return w.address, nil
}

// SignMessage 签名固定明文并立即验证
func (w *Workbench) SignMessage(ctx context.Context) (WorkbenchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sig, err := w.chain.SignMessage(ctx, w.signer, w.chain.Paths().Signing, []byte(DemoMessage))
	if err != nil {
		w.signature, w.valid = "", false
		w.failLocked(ctx, err)
		return w.stateLocked(), err
	}
	w.signature = sig
	w.valid = w.chain.VerifyMessage(ctx, w.signer, w.chain.Paths().Signing, []byte(DemoMessage), sig)
	return w.stateLocked(), nil
}

// Verify 验证给定签名，为空时验证最近一次的签名
func (w *Workbench) Verify(ctx context.Context, signature string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if signature == "" {
		signature = w.signature
	}
	valid := w.chain.VerifyMessage(ctx, w.signer, w.chain.Paths().Signing, []byte(DemoMessage), signature)
	if signature == w.signature {
		w.valid = valid
	}
	return valid
}

// SignTypedData 仅以太坊支持
func (w *Workbench) SignTypedData(ctx context.Context) (WorkbenchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	typed, ok := w.chain.(TypedDataSigner)
	if !ok {
		return w.stateLocked(), errno.ErrUnsupportedOperation
	}
	sig, err := typed.SignTypedData(ctx, w.signer, w.chain.Paths().Signing)
	if err != nil {
		w.typedSig, w.typedOK = "", false
		w.failLocked(ctx, err)
		return w.stateLocked(), err
	}
	w.typedSig = sig
	w.typedOK = typed.VerifyTypedData(ctx, w.signer, w.chain.Paths().Signing, sig)
	return w.stateLocked(), nil
}

// SignTransaction 签名自转账，结果只返回不广播
func (w *Workbench) SignTransaction(ctx context.Context) (WorkbenchState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.chain.SignTransaction(ctx, w.signer, w.chain.Paths().Address)
	if err != nil {
		w.tx = ""
		w.failLocked(ctx, err)
		return w.stateLocked(), err
	}
	w.tx = tx
	return w.stateLocked(), nil
}

func (w *Workbench) State() WorkbenchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

// failLocked 设备错误时重置会话；其它错误 (用户拒绝、链上数据) 保留会话
func (w *Workbench) failLocked(ctx context.Context, err error) {
	if !IsDeviceError(err) {
		return
	}
	logger.Warn("设备错误，重置会话", zap.String("chain", w.chain.Chain()), zap.String("session", string(w.session)), zap.Error(err))
	w.session = w.conn.Disconnect(ctx, w.session)
	w.resetLocked()
}

func (w *Workbench) resetLocked() {
	w.session = ""
	w.signer = nil
	w.address = ""
	w.signature, w.valid = "", false
	w.typedSig, w.typedOK = "", false
	w.tx = ""
}

func (w *Workbench) stateLocked() WorkbenchState {
	st := WorkbenchState{
		Chain:              w.chain.Chain(),
		SessionID:          w.session,
		Connected:          w.session != "",
		Address:            w.address,
		Message:            DemoMessage,
		Signature:          w.signature,
		Valid:              w.valid,
		TypedDataSignature: w.typedSig,
		TypedDataValid:     w.typedOK,
		Transaction:        w.tx,
	}
	if w.session != "" {
		if ds, err := w.conn.Manager().GetDeviceSessionState(w.session); err == nil {
			st.Device = &ds
		}
	}
	return st
}

// Registry 按链名查找 Workbench
type Registry struct {
	benches map[string]*Workbench
	order   []string
}

func NewRegistry(benches ...*Workbench) *Registry {
	r := &Registry{benches: make(map[string]*Workbench, len(benches))}
	for _, b := range benches {
		r.benches[b.Chain()] = b
		r.order = append(r.order, b.Chain())
	}
	return r
}

func (r *Registry) Get(chain string) (*Workbench, error) {
	b, ok := r.benches[chain]
	if !ok {
		return nil, errno.ErrUnsupportedChain.WithMessage(chain)
	}
	return b, nil
}

func (r *Registry) Chains() []string {
	return append([]string(nil), r.order...)
}

// DisconnectAll 关闭所有链的会话，服务退出时调用
func (r *Registry) DisconnectAll(ctx context.Context) {
	for _, chain := range r.order {
		r.benches[chain].Disconnect(ctx)
	}
}

// AddressAt 读取任意路径上的地址，不改变工作台状态
func (w *Workbench) AddressAt(ctx context.Context, path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.signer == nil {
		return "", errno.ErrSignerNotConnected
	}
	addr := w.chain.ResolveAddress(ctx, w.signer, path)
	if addr == "" {
		return "", errno.ErrDeviceAction.WithMessage("resolve " + path)
	}
	return addr, nil
}
