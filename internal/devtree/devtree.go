// Package devtree is a read-only accessor over a flattened device tree.
//
// All reads are pure. A missing property is reported with ErrNotFound, a
// property whose encoding does not fit the requested type with ErrMalformed.
// Reads on a nil *Node behave as if every property were absent.
package devtree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/u-root/u-root/pkg/dt"
)

var (
	ErrNotFound  = errors.New("property not found")
	ErrMalformed = errors.New("malformed property")
	// ErrDangling is a phandle cell that names no node in the tree. It is a
	// kind of ErrMalformed.
	ErrDangling = fmt.Errorf("dangling phandle: %w", ErrMalformed)
)

// Default cell counts when a parent does not declare #address-cells or
// #size-cells.
const (
	DefaultAddressCells = 2
	DefaultSizeCells    = 1
)

// Tree is a parsed device tree with a phandle index. It is immutable and safe
// for concurrent readers.
type Tree struct {
	root     *Node
	phandles map[uint32]*Node
	paths    map[string]*Node
}

// Node is a single device-tree node.
type Node struct {
	raw      *dt.Node
	tree     *Tree
	parent   *Node
	path     string
	children []*Node
}

// Parse parses an FDT blob.
func Parse(blob []byte) (*Tree, error) {
	return Open(bytes.NewReader(blob))
}

// Open reads an FDT blob from r.
func Open(r io.ReadSeeker) (*Tree, error) {
	fdt, err := dt.ReadFDT(r)
	if err != nil {
		return nil, fmt.Errorf("read fdt: %w", err)
	}
	if fdt.RootNode == nil {
		return nil, fmt.Errorf("read fdt: no root node")
	}

	t := &Tree{
		phandles: make(map[uint32]*Node),
		paths:    make(map[string]*Node),
	}
	t.root = t.index(fdt.RootNode, nil)
	return t, nil
}

func (t *Tree) index(raw *dt.Node, parent *Node) *Node {
	n := &Node{raw: raw, tree: t, parent: parent}
	switch {
	case parent == nil:
		n.path = "/"
	case parent.path == "/":
		n.path = "/" + raw.Name
	default:
		n.path = parent.path + "/" + raw.Name
	}
	t.paths[n.path] = n

	for _, key := range []string{"phandle", "linux,phandle"} {
		if p, ok := raw.LookProperty(key); ok {
			if len(p.Value) == 4 {
				if ph := binary.BigEndian.Uint32(p.Value); ph != 0 {
					t.phandles[ph] = n
				}
			}
		}
	}

	for _, child := range raw.Children {
		n.children = append(n.children, t.index(child, n))
	}
	return n
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Lookup returns the node at an absolute path such as "/soc/ufshc@1d84000".
func (t *Tree) Lookup(path string) (*Node, error) {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	n, ok := t.paths[path]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", path, ErrNotFound)
	}
	return n, nil
}

// Phandle returns the node that published phandle ph.
func (t *Tree) Phandle(ph uint32) (*Node, bool) {
	n, ok := t.phandles[ph]
	return n, ok
}

// FindCompatible returns every node whose "compatible" list contains compat,
// in depth-first order.
func (t *Tree) FindCompatible(compat string) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.IsCompatible(compat) {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

// Name returns the node name including any unit address.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.raw.Name
}

// Path returns the absolute path of the node.
func (n *Node) Path() string {
	if n == nil {
		return ""
	}
	return n.path
}

func (n *Node) Parent() *Node     { return n.parent }
func (n *Node) Children() []*Node { return n.children }

func (n *Node) lookup(key string) (*dt.Property, error) {
	if n == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	p, ok := n.raw.LookProperty(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return p, nil
}

// Has reports whether the property exists.
func (n *Node) Has(key string) bool {
	_, err := n.lookup(key)
	return err == nil
}

// PropertyLen returns the encoded length of a property in bytes.
func (n *Node) PropertyLen(key string) (int, error) {
	p, err := n.lookup(key)
	if err != nil {
		return 0, err
	}
	return len(p.Value), nil
}

// ReadU32 reads a single-cell property.
func (n *Node) ReadU32(key string) (uint32, error) {
	p, err := n.lookup(key)
	if err != nil {
		return 0, err
	}
	if len(p.Value) != 4 {
		return 0, fmt.Errorf("%s: %w: length %d, want 4", key, ErrMalformed, len(p.Value))
	}
	return binary.BigEndian.Uint32(p.Value), nil
}

// ReadU32Array reads a property as a list of big-endian cells.
func (n *Node) ReadU32Array(key string) ([]uint32, error) {
	p, err := n.lookup(key)
	if err != nil {
		return nil, err
	}
	if len(p.Value)%4 != 0 {
		return nil, fmt.Errorf("%s: %w: length %d is not a multiple of 4", key, ErrMalformed, len(p.Value))
	}
	out := make([]uint32, len(p.Value)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(p.Value[i*4:])
	}
	return out, nil
}

// ReadStringList reads a list of NUL-terminated strings. An empty property
// yields an empty list.
func (n *Node) ReadStringList(key string) ([]string, error) {
	p, err := n.lookup(key)
	if err != nil {
		return nil, err
	}
	v := p.Value
	if len(v) == 0 {
		return []string{}, nil
	}
	if v[len(v)-1] != 0 {
		return nil, fmt.Errorf("%s: %w: string list is not NUL-terminated", key, ErrMalformed)
	}
	return strings.Split(string(v[:len(v)-1]), "\x00"), nil
}

// MatchString returns the index of value within a string-list property.
func (n *Node) MatchString(key, value string) (int, error) {
	list, err := n.ReadStringList(key)
	if err != nil {
		return -1, err
	}
	i := slices.Index(list, value)
	if i < 0 {
		return -1, fmt.Errorf("%s: %q: %w", key, value, ErrNotFound)
	}
	return i, nil
}

// ReadBool reports whether the property is present. Absence means false.
func (n *Node) ReadBool(key string) bool {
	return n.Has(key)
}

// ResolvePhandle follows the index-th cell of a plain phandle list such as
// pinctrl-0 or vcc-supply.
func (n *Node) ResolvePhandle(key string, index int) (*Node, error) {
	cells, err := n.ReadU32Array(key)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(cells) {
		return nil, fmt.Errorf("%s[%d]: %w", key, index, ErrNotFound)
	}
	target, ok := n.tree.Phandle(cells[index])
	if !ok {
		return nil, fmt.Errorf("%s[%d]: %#x: %w", key, index, cells[index], ErrDangling)
	}
	return target, nil
}

// ResolvePhandleArgs follows the index-th entry of a phandle list whose
// entries carry specifier cells, e.g. resets = <&rst 5 &rst 6>. The number
// of specifier cells is read from cellsName in each referenced provider.
func (n *Node) ResolvePhandleArgs(key, cellsName string, index int) (*Node, []uint32, error) {
	cells, err := n.ReadU32Array(key)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 {
		return nil, nil, fmt.Errorf("%s[%d]: %w", key, index, ErrNotFound)
	}
	for i, pos := 0, 0; pos < len(cells); i++ {
		target, ok := n.tree.Phandle(cells[pos])
		if !ok {
			return nil, nil, fmt.Errorf("%s[%d]: %#x: %w", key, i, cells[pos], ErrDangling)
		}
		count, err := target.ReadU32(cellsName)
		if err != nil {
			return nil, nil, fmt.Errorf("%s[%d]: provider %s: %s: %w", key, i, target.Path(), cellsName, ErrMalformed)
		}
		end := pos + 1 + int(count)
		if end > len(cells) {
			return nil, nil, fmt.Errorf("%s[%d]: %w: %d specifier cells, %d left", key, i, ErrMalformed, count, len(cells)-pos-1)
		}
		if i == index {
			return target, slices.Clone(cells[pos+1 : end]), nil
		}
		pos = end
	}
	return nil, nil, fmt.Errorf("%s[%d]: %w", key, index, ErrNotFound)
}

// IsCompatible reports whether compat appears in the node's compatible list.
func (n *Node) IsCompatible(compat string) bool {
	list, err := n.ReadStringList("compatible")
	if err != nil {
		return false
	}
	return slices.Contains(list, compat)
}

// AddressCells returns the #address-cells that applies to this node's reg.
func (n *Node) AddressCells() int {
	return n.parentCells("#address-cells", DefaultAddressCells)
}

// SizeCells returns the #size-cells that applies to this node's reg.
func (n *Node) SizeCells() int {
	return n.parentCells("#size-cells", DefaultSizeCells)
}

func (n *Node) parentCells(key string, def int) int {
	if n == nil || n.parent == nil {
		return def
	}
	v, err := n.parent.ReadU32(key)
	if err != nil {
		return def
	}
	return int(v)
}
