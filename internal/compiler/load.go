package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/recipesync/internal/ir"
)

// Bundle is a compiled rules package: the concepts rules may reference
// and the rules themselves, in declaration order.
type Bundle struct {
	Manifest *Manifest
	Rules    []ir.Rule
	Files    int // CUE files the package was built from
}

// Compile extracts the `concepts` and `rules` structs of a built CUE value.
func Compile(v cue.Value) (*Bundle, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	manifest, err := CompileConcepts(v.LookupPath(cue.ParsePath("concepts")))
	if err != nil {
		return nil, fmt.Errorf("concepts: %w", err)
	}
	rules, err := CompileRules(v.LookupPath(cue.ParsePath("rules")))
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, &CompileError{Field: "rules", Message: "no rules found", Pos: v.Pos()}
	}
	return &Bundle{Manifest: manifest, Rules: rules}, nil
}

// CompileSource compiles a single CUE source text. filename is used in
// error positions.
func CompileSource(filename, src string) (*Bundle, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	b, err := Compile(v)
	if err != nil {
		return nil, err
	}
	b.Files = 1
	return b, nil
}

// LoadDir loads the CUE package in dir and compiles it.
func LoadDir(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("rules directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("rules directory: not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", formatCUEError(err))
	}

	b, err := Compile(value)
	if err != nil {
		return nil, err
	}
	b.Files = len(files)
	return b, nil
}

// FindCUEFiles returns the .cue files directly in dir, the ones that make
// up its package.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
