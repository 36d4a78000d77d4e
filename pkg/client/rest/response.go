package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// newAPIError 把非 2xx 响应转换为 apimachinery 的 StatusError，
// 这样调用方可以直接使用 apierrors.IsAlreadyExists 等判断函数。
func newAPIError(verb, path string, statusCode int, body []byte) error {
	// API Server 通常会返回一个 metav1.Status
	var status metav1.Status
	if err := json.Unmarshal(body, &status); err == nil && status.Kind == "Status" && status.Status == metav1.StatusFailure {
		if status.Code == 0 {
			status.Code = int32(statusCode)
		}
		return &apierrors.StatusError{ErrStatus: status}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return apierrors.NewGenericServerResponse(statusCode, verb, resourceFromPath(path), "", message, 0, true)
}

// resourceFromPath 从 /apis/<group>/<version>/.../<resource>[/<name>[/status]] 中粗略地取出资源名，
// 只用于错误信息。
func resourceFromPath(path string) schema.GroupResource {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return schema.GroupResource{}
	}
	gr := schema.GroupResource{}
	rest := parts[2:]
	if parts[0] == "apis" && len(parts) >= 4 {
		gr.Group = parts[1]
		rest = parts[3:]
	}
	if len(rest) >= 2 && rest[0] == "namespaces" {
		rest = rest[2:]
	}
	if len(rest) > 0 {
		gr.Resource = rest[0]
	}
	return gr
}
