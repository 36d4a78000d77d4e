// Package fakecluster 提供一个基于 httptest 的最小 API Server，
// 支持 CRD 创建、watch 长连接和 status 子资源更新，只用于测试。
package fakecluster

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	jsonpatch "gopkg.in/evanphx/json-patch.v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const crdPath = "/apis/apiextensions.k8s.io/v1/customresourcedefinitions"

// Request 记录服务端收到的一个请求。
type Request struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Body        []byte
}

// Server 是一个假的 API Server。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	closed   bool
	crds     map[string][]byte
	objects  map[string]map[string]interface{} // object path -> object
	watchers map[string][]chan []byte          // collection path -> 活跃的 watch 连接
	watches  []Request                         // 所有打开过的 watch
	requests []Request
	failures map[string][]int // method -> 依次返回的错误码
	watchErr []int            // watch 请求依次返回的错误码
	rv       int64
}

// NewServer 启动一个假的 API Server。调用方负责 Close。
func NewServer() *Server {
	s := &Server{
		crds:     make(map[string][]byte),
		objects:  make(map[string]map[string]interface{}),
		watchers: make(map[string][]chan []byte),
		failures: make(map[string][]int),
		rv:       100,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Close 先断开所有 watch 连接，再关闭底层服务器。
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for p := range s.watchers {
		s.closeWatchesLocked(p)
	}
	s.mu.Unlock()
	s.Server.Close()
}

// FailNext 让下一个 method 请求返回 code。
func (s *Server) FailNext(method string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = append(s.failures[method], code)
}

// FailNextWatch 让下一个 watch 请求在建立长连接之前返回 code。
// 410 的响应带 Gone 原因，与 API Server 拒绝过期 resourceVersion 时一致。
func (s *Server) FailNextWatch(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = append(s.watchErr, code)
}

// Requests 返回除 watch 之外收到的所有请求。
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Watches 返回所有打开过的 watch 请求。
func (s *Server) Watches() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.watches...)
}

// ActiveWatches 返回 collectionPath 上当前打开的 watch 连接数。
func (s *Server) ActiveWatches(collectionPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[collectionPath])
}

// CRD 返回已创建的 CRD 原始内容。
func (s *Server) CRD(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.crds[name]
	return b, ok
}

// Object 返回 objectPath 处保存的对象。
func (s *Server) Object(objectPath string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectPath]
	return obj, ok
}

// Emit 保存对象并向 collectionPath 上所有 watch 连接推送一条通知。
func (s *Server) Emit(collectionPath string, eventType metav1.EventType, obj map[string]interface{}) {
	line, err := json.Marshal(metav1.WatchEvent{Type: eventType, Object: obj})
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := objectPath(collectionPath, obj); ok {
		if eventType == metav1.Deleted {
			delete(s.objects, p)
		} else {
			s.objects[p] = obj
		}
	}
	s.sendLocked(collectionPath, line)
}

// EmitRaw 原样推送一行内容，用于构造无法解码的通知。
func (s *Server) EmitRaw(collectionPath, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(collectionPath, []byte(line))
}

// EmitGone 推送一条 410 Gone 的 ERROR 通知，表示客户端的 resourceVersion 已过期。
func (s *Server) EmitGone(collectionPath string) {
	status := apimetav1.Status{
		TypeMeta: apimetav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   apimetav1.StatusFailure,
		Reason:   apimetav1.StatusReasonGone,
		Message:  "too old resource version",
		Code:     http.StatusGone,
	}
	obj, err := toMap(status)
	if err != nil {
		panic(err)
	}
	line, _ := json.Marshal(metav1.WatchEvent{Type: metav1.Error, Object: obj})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(collectionPath, line)
}

// CloseWatches 从服务端断开 collectionPath 上的所有 watch 连接。
func (s *Server) CloseWatches(collectionPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeWatchesLocked(collectionPath)
}

func (s *Server) closeWatchesLocked(collectionPath string) {
	for _, ch := range s.watchers[collectionPath] {
		close(ch)
	}
	delete(s.watchers, collectionPath)
}

func (s *Server) sendLocked(collectionPath string, line []byte) {
	for _, ch := range s.watchers[collectionPath] {
		select {
		case ch <- line:
		default:
			// 测试里不会积压这么多事件
		}
	}
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	}

	if r.Method == http.MethodGet && r.URL.Query().Get("watch") == "true" {
		s.serveWatch(w, r, req)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	if codes := s.failures[r.Method]; len(codes) > 0 {
		s.failures[r.Method] = codes[1:]
		s.mu.Unlock()
		status := apierrors.NewGenericServerResponse(codes[0], r.Method, schema.GroupResource{}, "", "injected failure", 0, false).ErrStatus
		writeStatus(w, codes[0], status.Reason, status.Message)
		return
	}
	s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == crdPath:
		s.createCRD(w, body)
	case (r.Method == http.MethodPut || r.Method == http.MethodPatch) && strings.HasSuffix(r.URL.Path, "/status"):
		s.updateStatus(w, r, body)
	default:
		writeStatus(w, http.StatusNotFound, apimetav1.StatusReasonNotFound, fmt.Sprintf("%s %s not found", r.Method, r.URL.Path))
	}
}

func (s *Server) serveWatch(w http.ResponseWriter, r *http.Request, req Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, 1024)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}
	s.watches = append(s.watches, req)
	if len(s.watchErr) > 0 {
		code := s.watchErr[0]
		s.watchErr = s.watchErr[1:]
		s.mu.Unlock()
		reason := apimetav1.StatusReasonGone
		if code != http.StatusGone {
			reason = apierrors.NewGenericServerResponse(code, r.Method, schema.GroupResource{}, "", "", 0, false).ErrStatus.Reason
		}
		writeStatus(w, code, reason, "injected watch failure")
		return
	}
	s.watchers[r.URL.Path] = append(s.watchers[r.URL.Path], ch)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			w.Write(append(line, '\n'))
			flusher.Flush()
		case <-r.Context().Done():
			s.mu.Lock()
			s.removeWatcherLocked(r.URL.Path, ch)
			s.mu.Unlock()
			return
		}
	}
}

func (s *Server) removeWatcherLocked(collectionPath string, ch chan []byte) {
	chans := s.watchers[collectionPath]
	for i, c := range chans {
		if c == ch {
			s.watchers[collectionPath] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (s *Server) createCRD(w http.ResponseWriter, body []byte) {
	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(body); err != nil {
		writeStatus(w, http.StatusBadRequest, apimetav1.StatusReasonBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := obj.GetName()
	if _, exists := s.crds[name]; exists {
		writeStatus(w, http.StatusConflict, apimetav1.StatusReasonAlreadyExists,
			fmt.Sprintf("customresourcedefinitions.apiextensions.k8s.io %q already exists", name))
		return
	}
	s.crds[name] = body

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, body []byte) {
	objPath := strings.TrimSuffix(r.URL.Path, "/status")

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.objects[objPath]
	if !ok {
		writeStatus(w, http.StatusNotFound, apimetav1.StatusReasonNotFound, fmt.Sprintf("%s not found", objPath))
		return
	}
	currentJSON, err := json.Marshal(current)
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, apimetav1.StatusReasonInternalError, err.Error())
		return
	}

	var updatedJSON []byte
	switch r.Method {
	case http.MethodPatch:
		if r.Header.Get("Content-Type") != "application/merge-patch+json" {
			writeStatus(w, http.StatusUnsupportedMediaType, apimetav1.StatusReasonUnsupportedMediaType, "unsupported patch type")
			return
		}
		updatedJSON, err = jsonpatch.MergePatch(currentJSON, body)
	case http.MethodPut:
		updatedJSON, err = replaceStatus(current, body)
	}
	if err != nil {
		writeStatus(w, http.StatusUnprocessableEntity, apimetav1.StatusReasonInvalid, err.Error())
		return
	}

	updated := map[string]interface{}{}
	if err := json.Unmarshal(updatedJSON, &updated); err != nil {
		writeStatus(w, http.StatusInternalServerError, apimetav1.StatusReasonInternalError, err.Error())
		return
	}

	s.rv++
	u := &unstructured.Unstructured{Object: updated}
	u.SetResourceVersion(strconv.FormatInt(s.rv, 10))
	s.objects[objPath] = u.Object

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(u.Object)
}

// replaceStatus 模拟 status 子资源的 PUT：只替换 status，并做乐观并发检查。
func replaceStatus(current map[string]interface{}, body []byte) ([]byte, error) {
	incoming := &unstructured.Unstructured{}
	if err := incoming.UnmarshalJSON(body); err != nil {
		return nil, err
	}
	cur := &unstructured.Unstructured{Object: current}
	if rv := incoming.GetResourceVersion(); rv != "" && rv != cur.GetResourceVersion() {
		return nil, fmt.Errorf("resourceVersion %s does not match %s", rv, cur.GetResourceVersion())
	}

	out, err := toMap(current)
	if err != nil {
		return nil, err
	}
	if st, ok := incoming.Object["status"]; ok {
		out["status"] = st
	} else {
		delete(out, "status")
	}
	return json.Marshal(out)
}

// objectPath 计算对象在 collectionPath 下的路径，命名空间资源会插入 namespaces/<ns>。
func objectPath(collectionPath string, obj map[string]interface{}) (string, bool) {
	u := &unstructured.Unstructured{Object: obj}
	if u.GetName() == "" {
		return "", false
	}
	prefix, plural := path.Split(collectionPath)
	if u.GetNamespace() == "" {
		return path.Join(collectionPath, u.GetName()), true
	}
	return path.Join(prefix, "namespaces", u.GetNamespace(), plural, u.GetName()), true
}

func writeStatus(w http.ResponseWriter, code int, reason apimetav1.StatusReason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(apimetav1.Status{
		TypeMeta: apimetav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   apimetav1.StatusFailure,
		Reason:   reason,
		Message:  message,
		Code:     int32(code),
	})
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	return out, json.Unmarshal(data, &out)
}
