package v1

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newTestObject() map[string]interface{} {
	return map[string]interface{}{
		"apiVersion": "example.com/v1",
		"kind":       "Widget",
		"metadata": map[string]interface{}{
			"name":            "foo",
			"namespace":       "ns1",
			"resourceVersion": "5",
		},
	}
}

func TestExtract(t *testing.T) {
	meta, err := Extract("widgets.example.com/v1", newTestObject())
	require.NoError(t, err)

	assert.Equal(t, ResourceMeta{
		ID:              "widgets.example.com/v1",
		Name:            "foo",
		Namespace:       "ns1",
		ResourceVersion: "5",
		APIVersion:      "example.com/v1",
		Kind:            "Widget",
	}, meta)
	assert.Equal(t, "ns1/foo", meta.Key())
}

func TestExtract_ClusterScoped(t *testing.T) {
	obj := newTestObject()
	delete(obj["metadata"].(map[string]interface{}), "namespace")

	meta, err := Extract("widgets.example.com/v1", obj)
	require.NoError(t, err)
	assert.Empty(t, meta.Namespace)
	assert.Equal(t, "foo", meta.Key())
}

func TestExtract_MissingFields(t *testing.T) {
	cases := map[string]func(obj map[string]interface{}){
		"name": func(obj map[string]interface{}) {
			delete(obj["metadata"].(map[string]interface{}), "name")
		},
		"resourceVersion": func(obj map[string]interface{}) {
			delete(obj["metadata"].(map[string]interface{}), "resourceVersion")
		},
		"apiVersion": func(obj map[string]interface{}) { delete(obj, "apiVersion") },
		"kind":       func(obj map[string]interface{}) { obj["kind"] = "" },
		"metadata":   func(obj map[string]interface{}) { delete(obj, "metadata") },
		"wrong type": func(obj map[string]interface{}) {
			obj["metadata"].(map[string]interface{})["name"] = 42
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			obj := newTestObject()
			mutate(obj)

			_, err := Extract("widgets.example.com/v1", obj)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedObject), "got %v", err)
		})
	}

	t.Run("nil object", func(t *testing.T) {
		_, err := Extract("x", nil)
		assert.ErrorIs(t, err, ErrMalformedObject)
	})
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("widgets.example.com/v1", Modified, &unstructured.Unstructured{Object: newTestObject()})
	require.NoError(t, err)
	assert.Equal(t, Modified, ev.Type)
	assert.Equal(t, "foo", ev.Object.GetName())
	assert.Equal(t, "5", ev.Meta.ResourceVersion)

	assert.True(t, Added.Deliverable())
	assert.False(t, Bookmark.Deliverable())
	assert.False(t, Error.Deliverable())

	_, err = NewEvent("widgets.example.com/v1", Added, nil)
	assert.ErrorIs(t, err, ErrMalformedObject)
}
