package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"k8s.io/klog/v2"
)

// Request 允许以链式方式构建请求。
type Request struct {
	c       *RESTClient
	verb    string
	path    string
	body    interface{}
	headers http.Header
	err     error
	params  url.Values
}

func NewRequest(c *RESTClient) *Request {
	return &Request{
		c:       c,
		headers: make(http.Header),
	}
}

// Verb 指定 HTTP 方法 (e.g., "GET", "POST")。
func (r *Request) Verb(verb string) *Request {
	r.verb = verb
	return r
}

// AbsPath 指定请求的绝对路径，多个片段会用 path.Join 拼接。
func (r *Request) AbsPath(segments ...string) *Request {
	if r.err != nil {
		return r
	}
	p := path.Join(append([]string{"/"}, segments...)...)
	if p == "/" {
		r.err = fmt.Errorf("request path may not be empty")
		return r
	}
	r.path = p
	return r
}

// Body 设置请求体。[]byte 原样发送，其它对象会被序列化为 JSON。
func (r *Request) Body(obj interface{}) *Request {
	if r.err != nil {
		return r
	}
	r.body = obj
	return r
}

// SetHeader 设置一个请求头，会覆盖默认的 Content-Type。
func (r *Request) SetHeader(key, value string) *Request {
	if r.err != nil {
		return r
	}
	r.headers.Set(key, value)
	return r
}

// Param 向请求添加一个 URL Query 参数。
func (r *Request) Param(key, value string) *Request {
	if r.err != nil {
		return r
	}
	if r.params == nil {
		r.params = make(url.Values)
	}
	r.params.Add(key, value)
	return r
}

// URL 返回请求最终访问的地址。
func (r *Request) URL() *url.URL {
	fullURL := r.c.baseURL.ResolveReference(&url.URL{Path: path.Join(r.c.baseURL.Path, r.path)})
	if len(r.params) > 0 {
		fullURL.RawQuery = r.params.Encode()
	}
	return fullURL
}

func (r *Request) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.path == "" {
		return nil, fmt.Errorf("request path may not be empty")
	}

	var bodyReader io.Reader
	switch b := r.body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.verb, r.URL().String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header[k] = v
	}
	r.c.conn.ApplyToRequest(req)
	return req, nil
}

// Do 执行请求并返回一个 Result 对象。
func (r *Request) Do(ctx context.Context) *Result {
	req, err := r.newHTTPRequest(ctx)
	if err != nil {
		return &Result{err: err}
	}

	klog.V(4).InfoS("Executing request", "method", req.Method, "url", req.URL)
	resp, err := r.c.httpClient.Do(req)
	if err != nil {
		return &Result{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Result{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	result := &Result{body: body, statusCode: resp.StatusCode}
	if resp.StatusCode < http.StatusOK || resp.StatusCode > http.StatusPartialContent {
		result.err = newAPIError(r.verb, r.path, resp.StatusCode, body)
	}
	return result
}

// Stream 执行请求并返回未读取的响应体，用于 watch 这类长连接。
// 调用方负责关闭返回的 ReadCloser。
func (r *Request) Stream(ctx context.Context) (io.ReadCloser, error) {
	req, err := r.newHTTPRequest(ctx)
	if err != nil {
		return nil, err
	}

	klog.V(4).InfoS("Opening stream", "method", req.Method, "url", req.URL)
	resp, err := r.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode > http.StatusPartialContent {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(r.verb, r.path, resp.StatusCode, body)
	}
	return resp.Body, nil
}

// Result 封装了请求的结果。
type Result struct {
	body       []byte
	statusCode int
	err        error
}

// Error 返回请求过程中或服务端返回的错误。
func (r *Result) Error() error {
	return r.err
}

// StatusCode 返回 HTTP 状态码，请求没有发出时为 0。
func (r *Result) StatusCode() int {
	return r.statusCode
}

// Raw 返回原始响应体。
func (r *Result) Raw() ([]byte, error) {
	return r.body, r.err
}

// Into 把响应体解码到 obj 中。
func (r *Result) Into(obj interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(r.body) == 0 {
		return fmt.Errorf("0-length response with status code: %d", r.statusCode)
	}
	if err := json.Unmarshal(r.body, obj); err != nil {
		return fmt.Errorf("failed to unmarshal response into object: %w (raw response: %q)", err, truncate(r.body, 256))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
