package props

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Node is a single directory in the property tree. Reads of missing children
// return zero values.
type Node interface {
	GetFloat(name string) float64
	SetFloat(name string, v float64)
	GetString(name string) string
	SetString(name string, v string)
	GetBool(name string) bool
	SetBool(name string, v bool)
	HasChild(name string) bool

	// Len reports the length of an array child (0 when missing or scalar).
	Len(name string) int
	SetLen(name string, n int)
	GetFloatAt(name string, i int) float64
	SetFloatAt(name string, i int, v float64)
}

// Store hands out nodes by absolute path, creating them on first use.
type Store interface {
	Node(path string) Node
}

type value struct {
	f    float64
	s    string
	arr  []float64
	kind kind
}

type kind int

const (
	kindFloat kind = iota
	kindString
	kindBool
	kindArray
)

// Tree is the in-memory Store. It is safe for concurrent use so that network
// bridges can publish inputs while the control loop reads them.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]map[string]value
}

func NewTree() *Tree {
	return &Tree{nodes: make(map[string]map[string]value)}
}

func (t *Tree) Node(path string) Node {
	p := Clean(path)
	t.mu.Lock()
	if _, ok := t.nodes[p]; !ok {
		t.nodes[p] = make(map[string]value)
	}
	t.mu.Unlock()
	return &treeNode{tree: t, path: p}
}

// Paths returns every node path currently in the tree, sorted.
func (t *Tree) Paths() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.nodes))
	for p := range t.nodes {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot flattens one node into name -> value for status reporting.
func (t *Tree) Snapshot(path string) map[string]any {
	p := Clean(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := map[string]any{}
	for name, v := range t.nodes[p] {
		switch v.kind {
		case kindString:
			out[name] = v.s
		case kindBool:
			out[name] = v.f != 0
		case kindArray:
			out[name] = append([]float64(nil), v.arr...)
		default:
			out[name] = v.f
		}
	}
	return out
}

// Clean normalizes a node path to a leading-slash form without trailing
// slashes or duplicate separators.
func Clean(path string) string {
	parts := strings.Split(path, "/")
	keep := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keep = append(keep, p)
		}
	}
	return "/" + strings.Join(keep, "/")
}

// Split breaks a full property path into its node path and child name.
// "/sensors/imu/ax_nocal" -> "/sensors/imu", "ax_nocal".
func Split(full string) (node, name string) {
	p := Clean(full)
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/", strings.TrimPrefix(p, "/")
	}
	return p[:i], p[i+1:]
}

type treeNode struct {
	tree *Tree
	path string
}

func (n *treeNode) get(name string) (value, bool) {
	n.tree.mu.RLock()
	defer n.tree.mu.RUnlock()
	v, ok := n.tree.nodes[n.path][name]
	return v, ok
}

func (n *treeNode) set(name string, v value) {
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	m, ok := n.tree.nodes[n.path]
	if !ok {
		m = make(map[string]value)
		n.tree.nodes[n.path] = m
	}
	m[name] = v
}

func (n *treeNode) GetFloat(name string) float64 {
	v, ok := n.get(name)
	if !ok {
		return 0
	}
	switch v.kind {
	case kindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0
		}
		return f
	case kindArray:
		if len(v.arr) > 0 {
			return v.arr[0]
		}
		return 0
	default:
		return v.f
	}
}

func (n *treeNode) SetFloat(name string, f float64) {
	n.set(name, value{kind: kindFloat, f: f})
}

func (n *treeNode) GetString(name string) string {
	v, ok := n.get(name)
	if !ok {
		return ""
	}
	switch v.kind {
	case kindString:
		return v.s
	case kindBool:
		return strconv.FormatBool(v.f != 0)
	case kindArray:
		return ""
	default:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	}
}

func (n *treeNode) SetString(name string, s string) {
	n.set(name, value{kind: kindString, s: s})
}

func (n *treeNode) GetBool(name string) bool {
	v, ok := n.get(name)
	if !ok {
		return false
	}
	if v.kind == kindString {
		b, _ := strconv.ParseBool(strings.TrimSpace(v.s))
		return b
	}
	return v.f != 0
}

func (n *treeNode) SetBool(name string, b bool) {
	f := 0.0
	if b {
		f = 1
	}
	n.set(name, value{kind: kindBool, f: f})
}

func (n *treeNode) HasChild(name string) bool {
	_, ok := n.get(name)
	return ok
}

func (n *treeNode) Len(name string) int {
	v, ok := n.get(name)
	if !ok || v.kind != kindArray {
		return 0
	}
	return len(v.arr)
}

func (n *treeNode) SetLen(name string, size int) {
	if size < 0 {
		size = 0
	}
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	m := n.tree.nodes[n.path]
	if m == nil {
		m = make(map[string]value)
		n.tree.nodes[n.path] = m
	}
	v := m[name]
	arr := make([]float64, size)
	if v.kind == kindArray {
		copy(arr, v.arr)
	}
	m[name] = value{kind: kindArray, arr: arr}
}

func (n *treeNode) GetFloatAt(name string, i int) float64 {
	v, ok := n.get(name)
	if !ok {
		return 0
	}
	if v.kind != kindArray {
		if i == 0 {
			return n.GetFloat(name)
		}
		return 0
	}
	if i < 0 || i >= len(v.arr) {
		return 0
	}
	return v.arr[i]
}

// SetFloatAt grows the array as needed. The array is copied on every write
// so values already handed to readers never change under them.
func (n *treeNode) SetFloatAt(name string, i int, f float64) {
	if i < 0 {
		return
	}
	n.tree.mu.Lock()
	defer n.tree.mu.Unlock()
	m := n.tree.nodes[n.path]
	if m == nil {
		m = make(map[string]value)
		n.tree.nodes[n.path] = m
	}
	v := m[name]
	size := i + 1
	if v.kind == kindArray && len(v.arr) > size {
		size = len(v.arr)
	}
	arr := make([]float64, size)
	if v.kind == kindArray {
		copy(arr, v.arr)
	}
	arr[i] = f
	m[name] = value{kind: kindArray, arr: arr}
}
