package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"signer-core/internal/dmk/dmktest"
	"signer-core/internal/handler"
	"signer-core/internal/service"
	"signer-core/pkg/errno"
	"signer-core/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Init()
	os.Exit(m.Run())
}

type body struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func newRouter(t *testing.T, limit float64, burst int) *gin.Engine {
	t.Helper()
	env := dmktest.NewEnv(t)
	conn := service.NewConnectionService(env.Manager, 0)
	registry := service.NewRegistry(
		service.NewWorkbench(conn, service.NewEthereumService(env.Manager, nil)),
		service.NewWorkbench(conn, service.NewBitcoinService(env.Manager, nil, nil)),
		service.NewWorkbench(conn, service.NewSolanaService(env.Manager, nil)),
	)
	return NewHTTPRouter(RouterConfig{
		Signer:    handler.NewSignerHandler(registry),
		RateLimit: limit,
		RateBurst: burst,
	})
}

func do(t *testing.T, r *gin.Engine, method, path, payload string) (int, body) {
	t.Helper()
	var req *http.Request
	if payload == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var b body
	if w.Header().Get("Content-Type") != "" && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	}
	return w.Code, b
}

func TestPingAndHealth(t *testing.T) {
	r := newRouter(t, 0, 0)

	status, b := do(t, r, http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, errno.OK.Code, b.Code)

	status, b = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(b.Data), "UP")

	status, _ = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestUnsupportedChain(t *testing.T) {
	r := newRouter(t, 0, 0)
	_, b := do(t, r, http.MethodGet, "/api/v1/dogecoin/state", "")
	assert.Equal(t, errno.ErrUnsupportedChain.Code, b.Code)
	assert.Contains(t, b.Msg, "dogecoin")
}

func TestSignerFlow(t *testing.T) {
	r := newRouter(t, 0, 0)

	// 未连接
	_, b := do(t, r, http.MethodPost, "/api/v1/ethereum/sign-message", "")
	assert.Equal(t, errno.ErrSignerNotConnected.Code, b.Code)

	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/connect", "")
	require.Equal(t, errno.OK.Code, b.Code, b.Msg)
	var st service.WorkbenchState
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.True(t, st.Connected)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", st.Address)

	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/sign-message", "")
	require.Equal(t, errno.OK.Code, b.Code, b.Msg)
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.True(t, st.Valid)
	sig := st.Signature

	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/verify-message", "")
	assert.JSONEq(t, `{"valid":true}`, string(b.Data))
	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/verify-message", `{"signature":"`+sig+`"}`)
	assert.JSONEq(t, `{"valid":true}`, string(b.Data))
	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/verify-message", `{"signature":"0xdead"}`)
	assert.JSONEq(t, `{"valid":false}`, string(b.Data))

	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/sign-typed-data", "")
	require.Equal(t, errno.OK.Code, b.Code, b.Msg)
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.True(t, st.TypedDataValid)

	// 未配置 RPC
	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/sign-transaction", "")
	assert.Equal(t, errno.ErrChainBackend.Code, b.Code)

	_, b = do(t, r, http.MethodGet, "/api/v1/ethereum/state", "")
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.True(t, st.Connected)
	assert.Equal(t, sig, st.Signature)

	_, b = do(t, r, http.MethodPost, "/api/v1/ethereum/disconnect", "")
	require.NoError(t, json.Unmarshal(b.Data, &st))
	assert.False(t, st.Connected)
	assert.Empty(t, st.Signature)
}

func TestAddressQuery(t *testing.T) {
	r := newRouter(t, 0, 0)
	_, b := do(t, r, http.MethodPost, "/api/v1/ethereum/connect", "")
	require.Equal(t, errno.OK.Code, b.Code, b.Msg)

	_, b = do(t, r, http.MethodGet, "/api/v1/ethereum/address", "")
	assert.Contains(t, string(b.Data), "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

	_, b = do(t, r, http.MethodGet, "/api/v1/ethereum/address?path=44'/60'/0'/0/1", "")
	assert.Equal(t, errno.OK.Code, b.Code, b.Msg)
	assert.NotContains(t, string(b.Data), "0x9858EfFD232B4033E47d90003D41EC34EcaEda94")

	_, b = do(t, r, http.MethodGet, "/api/v1/ethereum/address?path=not-a-path", "")
	assert.Equal(t, errno.ErrBind.Code, b.Code)
}

func TestTypedDataOnlyOnEthereum(t *testing.T) {
	r := newRouter(t, 0, 0)
	status, _ := do(t, r, http.MethodPost, "/api/v1/bitcoin/sign-typed-data", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRateLimit(t *testing.T) {
	r := newRouter(t, 1, 1)

	status, _ := do(t, r, http.MethodGet, "/api/v1/solana/state", "")
	assert.Equal(t, http.StatusOK, status)
	status, b := do(t, r, http.MethodGet, "/api/v1/solana/state", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, errno.ErrTooManyRequests.Code, b.Code)

	// ping 不限流
	status, _ = do(t, r, http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, http.StatusOK, status)
}
