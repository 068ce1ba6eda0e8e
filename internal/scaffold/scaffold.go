// Package scaffold writes a starter workload plugin project: a go.mod
// under the requested module path and a main.go stub exporting the
// symbols internal/bench's harness looks up. It is invoked by `region-bench
// init` for a developer starting a new workload from scratch.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/module"
)

// Write validates modPath as an importable module path and writes a
// go.mod plus a main.go stub into dir, which must not already exist.
func Write(modPath, dir string) error {
	if err := module.CheckPath(modPath); err != nil {
		return fmt.Errorf("scaffold: invalid module path %q: %w", modPath, err)
	}

	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("scaffold: %s already exists", dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	goMod := fmt.Sprintf("module %s\n\ngo 1.23.0\n\nrequire github.com/region-rt/regionrt v0.0.0\n\n// run `go mod edit -replace github.com/region-rt/regionrt=<path>` to build\n// against a local checkout, then `go mod tidy`.\n", modPath)
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o644); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "main.go"), []byte(mainStub), 0o644)
}

const mainStub = `package main

import "github.com/region-rt/regionrt/workload"

// WorkloadABIVersion declares the region-bench harness contract this
// workload was built against. See internal/abi for the supported range.
var WorkloadABIVersion = "1.0.0"

// RunBenchmark is looked up by region-bench's plugin loader. kind selects
// the region strategy to exercise (arena, trace, rc); args are the
// harness's passthrough positional arguments; sink should be passed as
// the GCCallback installed on every region.Stack this workload opens.
//
// NOTE: built with 'go build -buildmode=plugin', against the exact
// region-rt/regionrt version the harness binary was built with.
func RunBenchmark(kind string, args []string, sink workload.GCCallback) error {
	return nil
}
`
