package kubeconfig

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	restclient "k8s.io/client-go/rest"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://10.0.0.1:6443
    insecure-skip-tls-verify: true
users:
- name: test
  user:
    token: abc123
contexts:
- name: test
  context:
    cluster: test
    user: test
current-context: test
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(testKubeconfig), 0600))

	ctx, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:6443", ctx.BaseURL().String())
	assert.NotNil(t, ctx.HTTPClient())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}

func TestNewForConfig_AddsScheme(t *testing.T) {
	ctx, err := NewForConfig(&restclient.Config{Host: "localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, "https", ctx.BaseURL().Scheme)
	assert.Equal(t, "localhost:8080", ctx.BaseURL().Host)

	_, err = NewForConfig(&restclient.Config{})
	assert.Error(t, err)
}

func TestApplyToRequest(t *testing.T) {
	ctx, err := NewForURL("http://127.0.0.1:8001", "secret", nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:8001/api", nil)
	require.NoError(t, err)
	ctx.ApplyToRequest(req)

	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.NotEmpty(t, req.Header.Get("User-Agent"))

	// BaseURL 返回的是副本
	u := ctx.BaseURL()
	u.Path = "/changed"
	assert.Empty(t, ctx.BaseURL().Path)
}
