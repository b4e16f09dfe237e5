// Package meta carries per request log metadata through a context.Context.
package meta

import (
	"context"
	"github.com/sirupsen/logrus"
	"sort"
	"strings"
	"sync"
)

// Key names one metadata entry, it is printed in front of its value.
type Key string

// RequestIDKey 请求id的键
const RequestIDKey Key = "request_id"

// 元信息对象, shared by every child of the context it was started on
type metadata struct {
	mu      sync.RWMutex
	carrier map[Key]string
}

type contextKey struct{}

// Begin 开启元信息对象. Calling it again below a context that already carries metadata
// returns that context, so it belongs as close to the root context as possible.
func Begin(parent context.Context) context.Context {
	if metadataFrom(parent) != nil {
		return parent
	}
	return context.WithValue(parent, contextKey{}, &metadata{carrier: make(map[Key]string)})
}

func metadataFrom(parent context.Context) *metadata {
	m, _ := parent.Value(contextKey{}).(*metadata)
	return m
}

// WithValue 设置键值对至上下文的元信息对象, a no-op without Begin.
func WithValue(parent context.Context, key Key, val string) {
	m := metadataFrom(parent)
	if m == nil {
		logrus.Debug("meta not found from context, should call meta.Begin() first?")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carrier[key] = val
}

// Value 从上下文的元信息对象中获取对应key的值, "" when missing.
func Value(parent context.Context, key Key) string {
	m := metadataFrom(parent)
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.carrier[key]
}

// RequestID 返回上下文中的请求id, 不存在时返回空串
func RequestID(parent context.Context) string {
	return Value(parent, RequestIDKey)
}

// Prefix renders every entry as "[k=v]" sorted by key, "" without metadata.
func Prefix(parent context.Context) string {
	m := metadataFrom(parent)
	if m == nil {
		return ""
	}
	m.mu.RLock()
	entries := make([]string, 0, len(m.carrier))
	for k, v := range m.carrier {
		entries = append(entries, "["+string(k)+"="+v+"]")
	}
	m.mu.RUnlock()
	if len(entries) == 0 {
		return ""
	}
	sort.Strings(entries)
	return strings.Join(entries, "") + " "
}
