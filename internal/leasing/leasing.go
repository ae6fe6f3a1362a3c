// Package leasing provides typed services for the leasing backend's
// resources on top of the API client.
package leasing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-authgate/lease-cli/internal/apiclient"
	"github.com/go-authgate/lease-cli/internal/state"
)

// API is the subset of *apiclient.Client the services use.
type API interface {
	Get(ctx context.Context, path string, out any, opts ...apiclient.Option) error
	Post(ctx context.Context, path string, body, out any, opts ...apiclient.Option) error
	Put(ctx context.Context, path string, body, out any, opts ...apiclient.Option) error
	Delete(ctx context.Context, path string, out any, opts ...apiclient.Option) error
	Upload(
		ctx context.Context,
		path, field, filename string,
		r io.Reader,
		fields map[string]string,
		out any,
		opts ...apiclient.Option,
	) error
}

// Dispatcher records list sizes in the app state.
type Dispatcher interface {
	Dispatch(state.Action) error
}

// Resource is CRUD over one collection endpoint.
type Resource[T any] struct {
	api   API
	name  string
	path  string
	state Dispatcher
}

// NewResource returns a Resource for the collection at path. st may be nil.
func NewResource[T any](api API, name, path string, st Dispatcher) *Resource[T] {
	return &Resource[T]{api: api, name: name, path: "/" + strings.Trim(path, "/"), state: st}
}

// Name is the resource name used in the app state.
func (r *Resource[T]) Name() string { return r.name }

// Path is the collection path.
func (r *Resource[T]) Path() string { return r.path }

func (r *Resource[T]) itemPath(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

// List fetches the collection. The server may answer with a bare array or
// with {"data": [...]}.
func (r *Resource[T]) List(ctx context.Context, query url.Values) ([]T, error) {
	var raw []byte
	var opts []apiclient.Option
	if len(query) > 0 {
		opts = append(opts, apiclient.WithQuery(query))
	}
	if err := r.api.Get(ctx, r.path, &raw, opts...); err != nil {
		return nil, err
	}

	var items []T
	if err := unwrap(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r.name, err)
	}
	if items == nil {
		items = []T{}
	}
	if r.state != nil {
		if err := r.state.Dispatch(state.ResourceLoaded{Name: r.name, Count: len(items)}); err != nil {
			return items, err
		}
	}
	return items, nil
}

// Get fetches one item.
func (r *Resource[T]) Get(ctx context.Context, id string) (*T, error) {
	return r.call(func(raw *[]byte) error {
		return r.api.Get(ctx, r.itemPath(id), raw)
	})
}

// Create posts a new item. v may be a T or any JSON-marshalable value.
func (r *Resource[T]) Create(ctx context.Context, v any) (*T, error) {
	return r.call(func(raw *[]byte) error {
		return r.api.Post(ctx, r.path, v, raw)
	})
}

// Update replaces an item.
func (r *Resource[T]) Update(ctx context.Context, id string, v any) (*T, error) {
	return r.call(func(raw *[]byte) error {
		return r.api.Put(ctx, r.itemPath(id), v, raw)
	})
}

// Delete removes an item.
func (r *Resource[T]) Delete(ctx context.Context, id string) error {
	return r.api.Delete(ctx, r.itemPath(id), nil)
}

func (r *Resource[T]) call(do func(raw *[]byte) error) (*T, error) {
	var raw []byte
	if err := do(&raw); err != nil {
		return nil, err
	}
	item := new(T)
	if len(bytes.TrimSpace(raw)) == 0 {
		return item, nil
	}
	if err := unwrap(raw, item); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", r.name, err)
	}
	return item, nil
}

// unwrap decodes raw into out, looking inside a {"data": ...} envelope when
// present.
func unwrap(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err == nil {
			if d := bytes.TrimSpace(env.Data); len(d) > 0 && (d[0] == '[' || d[0] == '{') {
				trimmed = d
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}
