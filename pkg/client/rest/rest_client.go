package rest

import (
	"net/http"
	"net/url"

	"github.com/fx147/operator-base/pkg/kubeconfig"
)

type Interface interface {
	Verb(verb string) *Request
	Get() *Request
	Put() *Request
	Post() *Request
	Patch() *Request
	Delete() *Request
}

// RESTClient 是与集群 API Server 交互的底层客户端。
// 它只负责拼路径、序列化和认证，不关心具体资源类型。
type RESTClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	conn       kubeconfig.Connection
}

var _ Interface = &RESTClient{}

// NewRESTClient 根据连接上下文创建客户端。
func NewRESTClient(conn kubeconfig.Connection) *RESTClient {
	httpClient := conn.HTTPClient()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RESTClient{
		baseURL:    conn.BaseURL(),
		httpClient: httpClient,
		conn:       conn,
	}
}

func (c *RESTClient) Verb(verb string) *Request {
	return NewRequest(c).Verb(verb)
}

// Post begins a POST request. Short for c.Verb("POST").
func (c *RESTClient) Post() *Request {
	return c.Verb(http.MethodPost)
}

// Put begins a PUT request. Short for c.Verb("PUT").
func (c *RESTClient) Put() *Request {
	return c.Verb(http.MethodPut)
}

// Patch begins a PATCH request. Short for c.Verb("PATCH").
func (c *RESTClient) Patch() *Request {
	return c.Verb(http.MethodPatch)
}

// Get begins a GET request. Short for c.Verb("GET").
func (c *RESTClient) Get() *Request {
	return c.Verb(http.MethodGet)
}

// Delete begins a DELETE request. Short for c.Verb("DELETE").
func (c *RESTClient) Delete() *Request {
	return c.Verb(http.MethodDelete)
}
