package fdt

// Property describes a single device-tree property in a JSON/YAML-friendly
// form. Exactly one of the typed fields should be populated for a given
// property.
type Property struct {
	Strings []string `json:"strings,omitempty" yaml:"strings,omitempty"`
	U32     []uint32 `json:"u32,omitempty" yaml:"u32,omitempty"`
	U64     []uint64 `json:"u64,omitempty" yaml:"u64,omitempty"`
	Bytes   []byte   `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Flag    bool     `json:"flag,omitempty" yaml:"flag,omitempty"`

	// Refs lists node labels. Each label is encoded as one phandle cell.
	Refs []string `json:"refs,omitempty" yaml:"refs,omitempty"`
}

// Kind returns the name of the populated field or an empty string if none are set.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case len(p.Refs) > 0:
		return "refs"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields on the property are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if len(p.Refs) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Strings returns a string-list property.
func Strings(v ...string) Property { return Property{Strings: v} }

// U32 returns a u32 cell-array property.
func U32(v ...uint32) Property { return Property{U32: v} }

// U64 returns a u64 array property.
func U64(v ...uint64) Property { return Property{U64: v} }

// Flag returns an empty (boolean) property.
func Flag() Property { return Property{Flag: true} }

// Refs returns a phandle-list property referencing the given labels.
func Refs(labels ...string) Property { return Property{Refs: labels} }

// Node describes a device-tree node using JSON/YAML-friendly structures.
//
// A node with a Label receives a phandle when the tree is built, and can be
// referenced from any Refs property.
type Node struct {
	Name       string              `json:"name" yaml:"name"`
	Label      string              `json:"label,omitempty" yaml:"label,omitempty"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Children   []Node              `json:"children,omitempty" yaml:"children,omitempty"`
}
