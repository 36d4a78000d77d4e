package v1

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ErrMalformedObject 表示原始对象缺少必需的身份字段。
var ErrMalformedObject = errors.New("malformed resource object")

// Extract 从原始对象中提取 ResourceMeta。
// name、resourceVersion、apiVersion、kind 任一缺失或为空都会返回 ErrMalformedObject。
func Extract(id string, obj map[string]interface{}) (ResourceMeta, error) {
	if obj == nil {
		return ResourceMeta{}, fmt.Errorf("%w: object is empty", ErrMalformedObject)
	}

	meta := ResourceMeta{ID: id}
	fields := []struct {
		path []string
		dst  *string
	}{
		{[]string{"metadata", "name"}, &meta.Name},
		{[]string{"metadata", "resourceVersion"}, &meta.ResourceVersion},
		{[]string{"apiVersion"}, &meta.APIVersion},
		{[]string{"kind"}, &meta.Kind},
	}

	for _, f := range fields {
		val, found, err := unstructured.NestedString(obj, f.path...)
		if err != nil {
			return ResourceMeta{}, fmt.Errorf("%w: %v", ErrMalformedObject, err)
		}
		if !found || val == "" {
			return ResourceMeta{}, fmt.Errorf("%w: missing %s", ErrMalformedObject, strings.Join(f.path, "."))
		}
		*f.dst = val
	}

	// namespace 是可选的，但类型不对仍然算畸形对象
	ns, _, err := unstructured.NestedString(obj, "metadata", "namespace")
	if err != nil {
		return ResourceMeta{}, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	meta.Namespace = ns

	return meta, nil
}

// NewEvent 把一条已解码的 watch 通知转换为 ResourceEvent。
// obj 应由 unstructured.UnstructuredJSONScheme 解码，整数字段是 int64。
func NewEvent(id string, eventType EventType, obj *unstructured.Unstructured) (ResourceEvent, error) {
	if obj == nil {
		return ResourceEvent{}, fmt.Errorf("%w: object is empty", ErrMalformedObject)
	}
	meta, err := Extract(id, obj.Object)
	if err != nil {
		return ResourceEvent{}, err
	}
	return ResourceEvent{
		Meta:   meta,
		Type:   eventType,
		Object: obj,
	}, nil
}
