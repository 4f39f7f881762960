package devtree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/ufshcd/internal/fdt"
)

func parseTree(t *testing.T, root fdt.Node) *Tree {
	t.Helper()
	blob, err := fdt.Build(root)
	require.NoError(t, err)
	tree, err := Parse(blob)
	require.NoError(t, err)
	return tree
}

func testTree(t *testing.T) *Tree {
	return parseTree(t, fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.U32(1),
			"#size-cells":    fdt.U32(1),
		},
		Children: []fdt.Node{
			{Name: "vreg", Label: "vreg"},
			{Name: "rst", Properties: map[string]fdt.Property{
				"phandle":      fdt.U32(0x20),
				"#reset-cells": fdt.U32(1),
			}},
			{Name: "clk", Properties: map[string]fdt.Property{"phandle": fdt.U32(0x21)}},
			{
				Name: "ufshc@1000",
				Properties: map[string]fdt.Property{
					"compatible":   fdt.Strings("vendor,ufshc", "jedec,ufs-2.0"),
					"clock-names":  fdt.Strings("core_clk", "bus_clk"),
					"freq-table":   fdt.U32(1, 2, 3, 4),
					"single":       fdt.U32(42),
					"odd":          {Bytes: []byte{1, 2, 3}},
					"flag":         fdt.Flag(),
					"vcc-supply":   fdt.Refs("vreg"),
					"bad-supply":   fdt.U32(0x99),
					"resets":       fdt.U32(0x20, 5, 0x20, 6),
					"short-resets": fdt.U32(0x20),
					"clocks":       fdt.U32(0x21, 1),
					"unterminated": {Bytes: []byte("core_clk")},
				},
			},
		},
	})
}

func TestReaders(t *testing.T) {
	tree := testTree(t)
	n, err := tree.Lookup("/ufshc@1000")
	require.NoError(t, err)

	v, err := n.ReadU32("single")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)

	arr, err := n.ReadU32Array("freq-table")
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, arr)

	names, err := n.ReadStringList("clock-names")
	require.NoError(t, err)
	assert.Equal(t, []string{"core_clk", "bus_clk"}, names)

	idx, err := n.MatchString("clock-names", "bus_clk")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	assert.True(t, n.ReadBool("flag"))
	assert.False(t, n.ReadBool("missing"))

	size, err := n.PropertyLen("freq-table")
	require.NoError(t, err)
	assert.Equal(t, 16, size)
}

func TestNotFoundIsDistinctFromMalformed(t *testing.T) {
	tree := testTree(t)
	n, err := tree.Lookup("/ufshc@1000")
	require.NoError(t, err)

	_, err = n.ReadU32("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrMalformed))

	_, err = n.ReadU32("freq-table")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = n.ReadU32Array("odd")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = n.ReadStringList("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = n.MatchString("clock-names", "ref_clk")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNilNodeReadsAsAbsent(t *testing.T) {
	var n *Node
	_, err := n.ReadU32("anything")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = n.ReadStringList("anything")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, n.ReadBool("anything"))
	_, err = n.ResolvePhandle("anything", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePhandle(t *testing.T) {
	tree := testTree(t)
	n, err := tree.Lookup("/ufshc@1000")
	require.NoError(t, err)

	target, err := n.ResolvePhandle("vcc-supply", 0)
	require.NoError(t, err)
	assert.Equal(t, "/vreg", target.Path())

	_, err = n.ResolvePhandle("vcc-supply", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = n.ResolvePhandle("vccq-supply", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = n.ResolvePhandle("bad-supply", 0)
	assert.ErrorIs(t, err, ErrDangling)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolvePhandleArgs(t *testing.T) {
	tree := testTree(t)
	n, err := tree.Lookup("/ufshc@1000")
	require.NoError(t, err)

	target, args, err := n.ResolvePhandleArgs("resets", "#reset-cells", 1)
	require.NoError(t, err)
	assert.Equal(t, "/rst", target.Path())
	assert.Equal(t, []uint32{6}, args)

	_, args, err = n.ResolvePhandleArgs("resets", "#reset-cells", 0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5}, args)

	_, _, err = n.ResolvePhandleArgs("resets", "#reset-cells", 2)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = n.ResolvePhandleArgs("short-resets", "#reset-cells", 0)
	assert.ErrorIs(t, err, ErrMalformed)

	// The provider does not declare its specifier size.
	_, _, err = n.ResolvePhandleArgs("clocks", "#clock-cells", 0)
	assert.ErrorIs(t, err, ErrMalformed)

	_, _, err = n.ResolvePhandleArgs("bad-supply", "#reset-cells", 0)
	assert.ErrorIs(t, err, ErrDangling)

	_, _, err = n.ResolvePhandleArgs("missing", "#reset-cells", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadStringList(t *testing.T) {
	tree := testTree(t)
	n, err := tree.Lookup("/ufshc@1000")
	require.NoError(t, err)

	compat, err := n.ReadStringList("compatible")
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor,ufshc", "jedec,ufs-2.0"}, compat)

	_, err = n.ReadStringList("unterminated")
	assert.ErrorIs(t, err, ErrMalformed)

	flag, err := n.ReadStringList("flag")
	require.NoError(t, err)
	assert.Empty(t, flag)

	assert.True(t, n.IsCompatible("vendor,ufshc"))
	assert.False(t, n.IsCompatible("vendor"))
}

func TestFindCompatibleAndCells(t *testing.T) {
	tree := testTree(t)

	nodes := tree.FindCompatible("jedec,ufs-2.0")
	require.Len(t, nodes, 1)
	assert.Equal(t, "ufshc@1000", nodes[0].Name())
	assert.Empty(t, tree.FindCompatible("jedec,ufs-3.0"))

	assert.Equal(t, 1, nodes[0].AddressCells())
	assert.Equal(t, 1, nodes[0].SizeCells())
	assert.Equal(t, DefaultAddressCells, tree.Root().AddressCells())
	children := tree.Root().Children()
	require.Len(t, children, 4)
	assert.Same(t, nodes[0], children[3])
	assert.Same(t, tree.Root(), nodes[0].Parent())

	_, err := tree.Lookup("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
