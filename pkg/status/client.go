package status

import (
	"context"
	"errors"
	"fmt"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/client/rest"
	"github.com/fx147/operator-base/pkg/util"
	"k8s.io/apimachinery/pkg/types"
)

// ErrNotRegistered 表示资源类型还没有被 watch，找不到它的 status 路径。
var ErrNotRegistered = errors.New("resource type is not registered")

// PathResolver 根据 ResourceMeta 找到 status 子资源路径。
// registry.Registry 实现了这个接口。
type PathResolver interface {
	StatusPath(meta metav1.ResourceMeta) (string, bool)
}

// Client 更新资源的 status 子资源。
// SetStatus 和 PatchStatus 的错误处理一致：记录日志并把错误返回给调用方。
type Client struct {
	client rest.Interface
	paths  PathResolver
	logger util.Logger
}

func NewClient(client rest.Interface, paths PathResolver, logger util.Logger) *Client {
	return &Client{client: client, paths: paths, logger: util.OrNop(logger)}
}

// statusObject 是 status 请求体：apiVersion、kind、最小的 metadata 和 status。
type statusObject struct {
	APIVersion string         `json:"apiVersion"`
	Kind       string         `json:"kind"`
	Metadata   statusMetadata `json:"metadata"`
	Status     interface{}    `json:"status"`
}

type statusMetadata struct {
	Name            string `json:"name"`
	Namespace       string `json:"namespace,omitempty"`
	ResourceVersion string `json:"resourceVersion"`
}

func newStatusObject(meta metav1.ResourceMeta, status interface{}) statusObject {
	return statusObject{
		APIVersion: meta.APIVersion,
		Kind:       meta.Kind,
		Metadata: statusMetadata{
			Name:            meta.Name,
			Namespace:       meta.Namespace,
			ResourceVersion: meta.ResourceVersion,
		},
		Status: status,
	}
}

// SetStatus 用 PUT 整体替换 status。
func (c *Client) SetStatus(ctx context.Context, meta metav1.ResourceMeta, status interface{}) (metav1.ResourceMeta, error) {
	return c.update(ctx, c.client.Put(), meta, status)
}

// PatchStatus 用 JSON merge patch (RFC 7386) 更新 status，未出现的字段保持不变。
func (c *Client) PatchStatus(ctx context.Context, meta metav1.ResourceMeta, status interface{}) (metav1.ResourceMeta, error) {
	req := c.client.Patch().SetHeader("Content-Type", string(types.MergePatchType))
	return c.update(ctx, req, meta, status)
}

func (c *Client) update(ctx context.Context, req *rest.Request, meta metav1.ResourceMeta, status interface{}) (metav1.ResourceMeta, error) {
	p, ok := c.paths.StatusPath(meta)
	if !ok {
		return metav1.ResourceMeta{}, fmt.Errorf("%w: %s", ErrNotRegistered, meta.ID)
	}

	var obj map[string]interface{}
	err := req.AbsPath(p).
		Body(newStatusObject(meta, status)).
		Do(ctx).
		Into(&obj)
	if err != nil {
		c.logger.Errorf("Failed to update status of %s: %v", meta, err)
		return metav1.ResourceMeta{}, fmt.Errorf("failed to update status of %s: %w", meta.Key(), err)
	}

	updated, err := metav1.Extract(meta.ID, obj)
	if err != nil {
		c.logger.Errorf("Unexpected status response for %s: %v", meta, err)
		return metav1.ResourceMeta{}, err
	}
	return updated, nil
}
