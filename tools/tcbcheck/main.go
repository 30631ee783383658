// Package main implements an egress-boundary import linter.
//
// It scans Go source files under pkg/ and ensures nothing outside
// pkg/egress imports "net" directly — every outbound fetch must go
// through the SSRF-safe, audited Guard, never a raw dial.
//
// Usage:
//
//	go run tools/tcbcheck/main.go [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenFragments are import path fragments that bypass the egress
// boundary when imported outside pkg/egress.
var forbiddenFragments = []string{
	`"net"`,
}

// exemptDirs may import the forbidden fragments — they ARE the boundary.
var exemptDirs = []string{
	filepath.Join("pkg", "egress"),
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()

	pkgDir := filepath.Join(*root, "pkg")
	if _, err := os.Stat(pkgDir); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "ERROR: %s does not exist\n", pkgDir)
		os.Exit(1)
	}

	violations := 0
	fset := token.NewFileSet()

	err := filepath.Walk(pkgDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "vendor" || info.Name() == "testdata" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if isExempt(path, *root) {
			return nil
		}

		f, parseErr := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "WARN: parse error in %s: %v\n", path, parseErr)
			return nil
		}

		for _, v := range checkFile(fset, f, forbiddenFragments) {
			fmt.Printf("EGRESS BOUNDARY VIOLATION: %s\n", v)
			violations++
		}
		return nil
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: walk failed: %v\n", err)
		os.Exit(1)
	}

	if violations > 0 {
		fmt.Printf("\n%d egress boundary violation(s) found\n", violations)
		os.Exit(1)
	}

	fmt.Println("egress boundary check passed — no raw net dials outside pkg/egress")
}

func isExempt(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, dir := range exemptDirs {
		if strings.HasPrefix(rel, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// checkFile reports every import matching a forbidden fragment.
func checkFile(fset *token.FileSet, f *ast.File, fragments []string) []string {
	var violations []string
	for _, imp := range f.Imports {
		importPath := imp.Path.Value // already includes surrounding quotes
		for _, frag := range fragments {
			if importPath == frag {
				pos := fset.Position(imp.Pos())
				violations = append(violations,
					fmt.Sprintf("%s:%d imports %s directly (forbidden outside pkg/egress)", pos.Filename, pos.Line, importPath))
			}
		}
	}
	return violations
}
