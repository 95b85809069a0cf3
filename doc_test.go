package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentedPackages = []string{
	"cache", "config", "controller", "embedding", "llm",
	"logger", "models", "rerank", "services", "vectorstore",
}

// receiverName returns the type name of a method receiver.
func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if id, ok := expr.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

func TestExportedFunctionsHaveDocComments(t *testing.T) {
	var missing []string
	for _, pkg := range documentedPackages {
		entries, err := os.ReadDir(pkg)
		require.NoError(t, err)
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			path := filepath.Join(pkg, name)
			file, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.ParseComments)
			require.NoError(t, err, path)
			for _, decl := range file.Decls {
				fn, ok := decl.(*ast.FuncDecl)
				if !ok || !fn.Name.IsExported() || fn.Doc != nil {
					continue
				}
				if recv := receiverName(fn); fn.Recv != nil && !ast.IsExported(recv) {
					continue
				}
				missing = append(missing, path+": "+fn.Name.Name)
			}
		}
	}
	assert.Empty(t, missing, "exported functions without a doc comment")
}
