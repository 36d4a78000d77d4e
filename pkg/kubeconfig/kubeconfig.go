// Package kubeconfig 提供与集群的连接上下文：基础 URL、认证信息以及带认证的 HTTP 客户端。
package kubeconfig

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

// Connection 是 operator 访问集群 API 所需的全部连接信息。
type Connection interface {
	// BaseURL 返回 API Server 的根地址。
	BaseURL() *url.URL
	// HTTPClient 返回已配置好 TLS 和传输层认证的客户端。
	HTTPClient() *http.Client
	// ApplyToRequest 为请求补充认证头。
	ApplyToRequest(req *http.Request)
}

// Context 是基于 client-go rest.Config 的 Connection 实现。
type Context struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	// token 只在传输层没有处理认证时使用
	token string
}

var _ Connection = &Context{}

// Load 按 kubeconfig 路径加载连接信息。
// path 为空时先尝试集群内配置，再回退到默认的 kubeconfig 加载规则。
func Load(path, context string) (*Context, error) {
	config, err := loadRESTConfig(path, context)
	if err != nil {
		return nil, err
	}
	return NewForConfig(config)
}

func loadRESTConfig(path, context string) (*restclient.Config, error) {
	if path == "" && context == "" {
		if config, err := restclient.InClusterConfig(); err == nil {
			klog.V(2).Info("Using in-cluster configuration")
			return config, nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: context}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return config, nil
}

// NewForConfig 根据 rest.Config 创建连接上下文。
func NewForConfig(config *restclient.Config) (*Context, error) {
	if config == nil || config.Host == "" {
		return nil, fmt.Errorf("config host must be specified")
	}

	host := config.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	baseURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	// watch 是长连接，不能有整体超时
	streamConfig := restclient.CopyConfig(config)
	streamConfig.Timeout = 0

	httpClient, err := restclient.HTTPClientFor(streamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	return &Context{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  config.UserAgent,
	}, nil
}

// NewForURL 创建一个只带静态 token 的连接上下文，主要用于测试和本地代理 (kubectl proxy)。
// token 可以为空。
func NewForURL(rawURL, token string, httpClient *http.Client) (*Context, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Context{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
	}, nil
}

func (c *Context) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *Context) HTTPClient() *http.Client {
	return c.httpClient
}

// ApplyToRequest 设置 user-agent 和静态 bearer token。
// 由 rest.Config 构造的上下文，证书和 token 都由 client-go 的传输层处理。
func (c *Context) ApplyToRequest(req *http.Request) {
	userAgent := c.userAgent
	if userAgent == "" {
		userAgent = restclient.DefaultKubernetesUserAgent()
	}
	req.Header.Set("User-Agent", userAgent)

	if c.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
