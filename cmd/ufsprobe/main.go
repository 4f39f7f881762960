package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ufshcd/internal/board"
	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/platform"
	"github.com/tinyrange/ufshcd/internal/regmap"
	"github.com/tinyrange/ufshcd/internal/ufs"
)

type hostReport struct {
	Path  string           `json:"path" yaml:"path"`
	Host  *ufs.Descriptors `json:"host,omitempty" yaml:"host,omitempty"`
	Error string           `json:"error,omitempty" yaml:"error,omitempty"`
	Errno int              `json:"errno,omitempty" yaml:"errno,omitempty"`
}

type report struct {
	Board string       `json:"board,omitempty" yaml:"board,omitempty"`
	Hosts []hostReport `json:"hosts" yaml:"hosts"`
}

func newLogger(w *os.File, verbose bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	if term.IsTerminal(int(w.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func writeReport(w io.Writer, format string, r report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&r); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&r)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func run() error {
	boardPath := flag.String("board", "", "board description YAML")
	dtbPath := flag.String("dtb", "", "flattened device tree blob")
	compatible := flag.String("compatible", "jedec,ufs-2.0", "compatible string of the controller nodes")
	format := flag.String("format", "yaml", "report format (yaml or json)")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ufsprobe - attach UFS host controllers described by a device tree

USAGE:
  ufsprobe -board FILE [flags]
  ufsprobe -dtb FILE [flags]

FLAGS:
  -board FILE         Board description YAML (tree plus register mapping)
  -dtb FILE           Flattened device tree blob; registers are simulated in memory
  -compatible STR     Probe nodes with this compatible string (default: jedec,ufs-2.0)
  -format FMT         Report format: yaml or json (default: yaml)
  -v                  Enable debug logging

Each matching node is probed against a dry-run controller core, the extracted
configuration is printed, and the controller is shut down again.

EXAMPLES:
  ufsprobe -board sm8150.yaml
  ufsprobe -dtb board.dtb -format json
  ufsprobe -dtb board.dtb -compatible qcom,ufshc -v
`)
	}
	flag.Parse()

	if (*boardPath == "") == (*dtbPath == "") || flag.NArg() != 0 {
		flag.Usage()
		os.Exit(1)
	}
	if *format != "yaml" && *format != "json" {
		return fmt.Errorf("unknown format %q", *format)
	}

	logger := newLogger(os.Stderr, *verbose)
	slog.SetDefault(logger)

	var (
		tree   *devtree.Tree
		mapper regmap.Mapper = regmap.MemoryMapper{}
		alloc  *ufs.Allocator
		out    report
	)
	if *boardPath != "" {
		b, err := board.Load(*boardPath)
		if err != nil {
			return err
		}
		blob, err := b.Blob()
		if err != nil {
			return err
		}
		if tree, err = devtree.Parse(blob); err != nil {
			return fmt.Errorf("parse board tree: %w", err)
		}
		mapper = b.Mapper()
		alloc = ufs.NewAllocator(b.MaxHosts)
		out.Board = b.Name
	} else {
		f, err := os.Open(*dtbPath)
		if err != nil {
			return fmt.Errorf("open device tree: %w", err)
		}
		defer f.Close()
		if tree, err = devtree.Open(f); err != nil {
			return fmt.Errorf("parse %s: %w", *dtbPath, err)
		}
	}

	supplier := platform.NewTreeSupplier(mapper)
	supplier.SetLogger(logger)
	prober, err := ufs.NewProber(ufs.Config{
		Core:      &dryRunCore{logger: logger},
		Supplier:  supplier,
		Allocator: alloc,
	})
	if err != nil {
		return err
	}
	prober.SetLogger(logger)

	nodes := tree.FindCompatible(*compatible)
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes compatible with %q", *compatible)
	}

	out.Hosts = []hostReport{}
	var failed error
	for _, np := range nodes {
		dev := platform.NewDevice(np)
		entry := hostReport{Path: np.Path()}

		h, err := prober.Probe(dev)
		if err != nil {
			entry.Error = err.Error()
			entry.Errno = ufs.Errno(err)
			failed = errors.Join(failed, err)
			out.Hosts = append(out.Hosts, entry)
			continue
		}
		d := h.Descriptors()
		entry.Host = &d
		out.Hosts = append(out.Hosts, entry)

		if err := prober.Shutdown(dev); err != nil {
			logger.Warn("shutdown", "dev", dev.String(), "err", err)
		}
	}
	if n := supplier.Outstanding(); n != 0 {
		logger.Warn("resources still held after shutdown", "count", n)
	}

	if err := writeReport(os.Stdout, *format, out); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return failed
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ufsprobe: %v\n", err)
		os.Exit(1)
	}
}
