package crd

import (
	"context"
	"fmt"
	"os"

	"github.com/fx147/operator-base/pkg/client/rest"
	"github.com/fx147/operator-base/pkg/util"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// Descriptor 描述一个已注册的资源类型，watch 控制器和 status 客户端用它来拼 API 路径。
type Descriptor struct {
	Group    string
	Versions []string
	Plural   string
	Kind     string
	// Namespaced 为 false 表示集群级资源
	Namespaced bool
}

// PreferredVersion 返回第一个被 serve 的版本。
func (d Descriptor) PreferredVersion() string {
	if len(d.Versions) == 0 {
		return ""
	}
	return d.Versions[0]
}

// Registrar 把 CRD 安装到集群中。
type Registrar struct {
	client rest.Interface
	logger util.Logger
}

func NewRegistrar(client rest.Interface, logger util.Logger) *Registrar {
	return &Registrar{client: client, logger: util.OrNop(logger)}
}

// Register 提交 CRD 创建请求。资源类型已存在 (409) 视为成功，其他错误原样返回。
// 同一个定义注册多次总是得到相同的 Descriptor。
func (r *Registrar) Register(ctx context.Context, def *apiextensionsv1.CustomResourceDefinition) (Descriptor, error) {
	desc, err := DescriptorFor(def)
	if err != nil {
		return Descriptor{}, err
	}

	body := def.DeepCopy()
	body.TypeMeta = metav1.TypeMeta{
		APIVersion: apiextensionsv1.SchemeGroupVersion.String(),
		Kind:       "CustomResourceDefinition",
	}

	err = r.client.Post().
		AbsPath("apis", apiextensionsv1.GroupName, "v1", "customresourcedefinitions").
		Body(body).
		Do(ctx).
		Error()
	switch {
	case err == nil:
		r.logger.Infof("Registered custom resource definition %s", def.Name)
	case apierrors.IsAlreadyExists(err):
		r.logger.Infof("Custom resource definition %s already exists", def.Name)
	default:
		r.logger.Errorf("Failed to register custom resource definition %s: %v", def.Name, err)
		return Descriptor{}, fmt.Errorf("failed to register %s: %w", def.Name, err)
	}
	return desc, nil
}

// DescriptorFor 从 CRD 中提取 Descriptor，并校验必需字段。
func DescriptorFor(def *apiextensionsv1.CustomResourceDefinition) (Descriptor, error) {
	if def == nil {
		return Descriptor{}, fmt.Errorf("definition may not be nil")
	}
	if def.Name == "" {
		return Descriptor{}, fmt.Errorf("definition has no metadata.name")
	}
	if def.Spec.Group == "" || def.Spec.Names.Plural == "" {
		return Descriptor{}, fmt.Errorf("definition %s must specify spec.group and spec.names.plural", def.Name)
	}

	desc := Descriptor{
		Group:      def.Spec.Group,
		Plural:     def.Spec.Names.Plural,
		Kind:       def.Spec.Names.Kind,
		Namespaced: def.Spec.Scope != apiextensionsv1.ClusterScoped,
	}
	// 被 serve 的版本排在前面
	var unserved []string
	for _, v := range def.Spec.Versions {
		if v.Served {
			desc.Versions = append(desc.Versions, v.Name)
		} else {
			unserved = append(unserved, v.Name)
		}
	}
	desc.Versions = append(desc.Versions, unserved...)
	if len(desc.Versions) == 0 {
		return Descriptor{}, fmt.Errorf("definition %s has no versions", def.Name)
	}
	return desc, nil
}

// LoadDefinition 从 YAML 或 JSON 文件中读取 CRD。
func LoadDefinition(path string) (*apiextensionsv1.CustomResourceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition 解析 YAML 或 JSON 格式的 CRD。
func ParseDefinition(data []byte) (*apiextensionsv1.CustomResourceDefinition, error) {
	def := &apiextensionsv1.CustomResourceDefinition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	if def.Kind != "" && def.Kind != "CustomResourceDefinition" {
		return nil, fmt.Errorf("expected kind CustomResourceDefinition, got %s", def.Kind)
	}
	return def, nil
}
