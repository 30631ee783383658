// Command doccheck validates the repository's top-level markdown files.
// Checks: broken relative links, missing file references in backticks.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var docFiles = []string{"SPEC_FULL.md", "DESIGN.md", "spec.md"}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	var issues []string
	linkRe := regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	fileRefRe := regexp.MustCompile("`([a-zA-Z_/]+\\.(?:go|yaml|yml|json|md|sh))`")

	for _, name := range docFiles {
		path := filepath.Join(root, name)
		f, err := os.Open(path)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()

			for _, m := range linkRe.FindAllStringSubmatch(line, -1) {
				link := m[2]
				if strings.HasPrefix(link, "http") || strings.HasPrefix(link, "#") {
					continue
				}
				target := filepath.Join(filepath.Dir(path), link)
				if _, err := os.Stat(target); os.IsNotExist(err) {
					target = filepath.Join(root, link)
					if _, err := os.Stat(target); os.IsNotExist(err) {
						issues = append(issues, fmt.Sprintf("%s:%d: broken link %q", path, lineNum, link))
					}
				}
			}

			for _, m := range fileRefRe.FindAllStringSubmatch(line, -1) {
				ref := m[1]
				if !strings.Contains(ref, "/") {
					continue
				}
				target := filepath.Join(root, ref)
				if _, err := os.Stat(target); os.IsNotExist(err) {
					if strings.HasSuffix(ref, ".go") || strings.HasSuffix(ref, ".yaml") {
						issues = append(issues, fmt.Sprintf("%s:%d: file ref %q not found", path, lineNum, ref))
					}
				}
			}
		}
		f.Close()
	}

	if len(issues) > 0 {
		fmt.Println("Documentation issues found:")
		for _, issue := range issues {
			fmt.Println("  ", issue)
		}
		os.Exit(1)
	}

	fmt.Println("Documentation check passed.")
}
