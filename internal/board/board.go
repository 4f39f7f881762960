// Package board loads board descriptions: a device tree written as YAML plus
// the settings needed to reach the board's controller registers.
package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ufshcd/internal/fdt"
	"github.com/tinyrange/ufshcd/internal/regmap"
)

const (
	CurrentVersion = 1

	MapperMemory = "memory"
	MapperFile   = "file"
)

// Board describes a board on disk.
type Board struct {
	Version     int    `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	Registers RegisterConfig `yaml:"registers"`
	// MaxHosts caps the number of attached controllers. Zero means no cap.
	MaxHosts int `yaml:"maxHosts,omitempty"`

	Tree fdt.Node `yaml:"tree"`
}

// RegisterConfig selects how controller registers are mapped.
type RegisterConfig struct {
	Mapper string `yaml:"mapper"`
	Path   string `yaml:"path,omitempty"`
	Offset uint64 `yaml:"offset,omitempty"`
}

func (b *Board) normalize() {
	if b.Version == 0 {
		b.Version = CurrentVersion
	}
	if b.Name == "" {
		b.Name = "board"
	}
	if b.Registers.Mapper == "" {
		b.Registers.Mapper = MapperMemory
	}
	// The root node is always unnamed.
	b.Tree.Name = ""
}

func (b *Board) validate() error {
	if b.Version != CurrentVersion {
		return fmt.Errorf("unsupported board version %d", b.Version)
	}
	switch b.Registers.Mapper {
	case MapperMemory:
	case MapperFile:
		if b.Registers.Path == "" {
			return fmt.Errorf("registers: mapper %q needs a path", MapperFile)
		}
	default:
		return fmt.Errorf("registers: unknown mapper %q", b.Registers.Mapper)
	}
	if b.MaxHosts < 0 {
		return fmt.Errorf("maxHosts must not be negative")
	}
	return nil
}

// Parse decodes a board description.
func Parse(data []byte) (Board, error) {
	var b Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Board{}, fmt.Errorf("parse board: %w", err)
	}
	b.normalize()
	if err := b.validate(); err != nil {
		return Board{}, fmt.Errorf("board %s: %w", b.Name, err)
	}
	return b, nil
}

// Load reads and decodes the board description at path.
func Load(path string) (Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Board{}, fmt.Errorf("read board: %w", err)
	}
	return Parse(data)
}

// Blob builds the flattened device tree for the board.
func (b Board) Blob() ([]byte, error) {
	blob, err := fdt.Build(b.Tree)
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", b.Name, err)
	}
	return blob, nil
}

// Mapper returns the register mapper configured for the board.
func (b Board) Mapper() regmap.Mapper {
	if b.Registers.Mapper == MapperFile {
		return regmap.FileMapper{Path: b.Registers.Path, Offset: b.Registers.Offset}
	}
	return regmap.MemoryMapper{}
}

// WriteTemplate writes b as YAML to path.
func WriteTemplate(path string, b Board) error {
	b.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create board: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&b); err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close board: %w", err)
	}
	return nil
}
