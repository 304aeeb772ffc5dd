package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 假设 signer-server 已经在运行 (默认模拟器 + auto_approve)
// 运行命令: SIGNER_BASE_URL=http://localhost:8080/api/v1 go test -v ./tests/integration/...

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func baseURL() string {
	if u := os.Getenv("SIGNER_BASE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080/api/v1"
}

func call(t *testing.T, client *http.Client, method, path string) envelope {
	t.Helper()
	req, err := http.NewRequest(method, baseURL()+path, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestPing(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL() + "/ping")
	if err != nil {
		t.Skip("Skipping integration test: server not running? " + err.Error())
		return
	}
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignAndVerifyAllChains(t *testing.T) {
	client := &http.Client{Timeout: 60 * time.Second}
	if _, err := client.Get(baseURL() + "/ping"); err != nil {
		t.Skip("Skipping integration test: server not running? " + err.Error())
	}

	for _, chain := range []string{"ethereum", "bitcoin", "solana"} {
		t.Run(chain, func(t *testing.T) {
			env := call(t, client, http.MethodPost, "/"+chain+"/connect")
			require.Equal(t, 0, env.Code, env.Msg)
			defer call(t, client, http.MethodPost, "/"+chain+"/disconnect")

			env = call(t, client, http.MethodPost, "/"+chain+"/sign-message")
			require.Equal(t, 0, env.Code, env.Msg)

			var st struct {
				Address   string `json:"address"`
				Signature string `json:"signature"`
				Valid     bool   `json:"valid"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &st))
			assert.NotEmpty(t, st.Address)
			assert.NotEmpty(t, st.Signature)
			assert.True(t, st.Valid)
		})
	}
}
