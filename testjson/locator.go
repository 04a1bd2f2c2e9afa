package testjson

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
)

// Locator finds where tests of a package are declared.
type Locator interface {
	// Dir returns the source directory of an import path.
	Dir(pkg string) (string, bool)
	// Declaration returns the location of a top-level test function, or nil.
	Declaration(pkg, test string) *model.RawLocation
}

// SourceLocator parses the _test.go files of known package directories.
type SourceLocator struct {
	logger zerolog.Logger
	dirs   map[string]string

	mu    sync.Mutex
	decls map[string]map[string]model.RawLocation
}

// NewSourceLocator creates a locator for the packages in dirs, keyed by import
// path.
func NewSourceLocator(logger zerolog.Logger, dirs map[string]string) *SourceLocator {
	return &SourceLocator{
		logger: logger,
		dirs:   dirs,
		decls:  make(map[string]map[string]model.RawLocation),
	}
}

func (l *SourceLocator) Dir(pkg string) (string, bool) {
	dir, ok := l.dirs[pkg]
	return dir, ok
}

func (l *SourceLocator) Declaration(pkg, test string) *model.RawLocation {
	l.mu.Lock()
	defer l.mu.Unlock()

	decls, ok := l.decls[pkg]
	if !ok {
		decls = l.scan(pkg)
		l.decls[pkg] = decls
	}
	loc, ok := decls[topLevel(test)]
	if !ok {
		return nil
	}
	return &loc
}

func (l *SourceLocator) scan(pkg string) map[string]model.RawLocation {
	decls := make(map[string]model.RawLocation)
	dir, ok := l.dirs[pkg]
	if !ok {
		return decls
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		l.logger.Debug().Err(err).Str("dir", dir).Msg("Failed to read package directory")
		return decls
	}

	fset := token.NewFileSet()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
		if err != nil {
			l.logger.Debug().Err(err).Str("file", path).Msg("Failed to parse test file")
			continue
		}
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !isTestFunc(fn.Name.Name) {
				continue
			}
			line := fset.Position(fn.Pos()).Line - 1
			decls[fn.Name.Name] = model.RawLocation{
				Path: path,
				Line: &line,
			}
		}
	}

	l.logger.Debug().Str("package", pkg).Int("tests", len(decls)).Msg("Located test declarations")
	return decls
}

func isTestFunc(name string) bool {
	for _, prefix := range []string{"Test", "Benchmark", "Fuzz", "Example"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// topLevel strips subtest names.
func topLevel(test string) string {
	if i := strings.Index(test, "/"); i >= 0 {
		return test[:i]
	}
	return test
}
