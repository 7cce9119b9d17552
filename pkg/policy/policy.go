package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RuleResult captures the outcome of a safeguard module evaluation.
type RuleResult struct {
	Deny []string
	Warn []string
	Docs string
}

// QueryResult captures the outcome of an ad-hoc query.
type QueryResult struct {
	Defined bool
	Value   any
}

// ModuleExt is the file extension of Rego safeguard modules.
const ModuleExt = ".rego"

// LoadModules reads a single .rego file, or every .rego file directly inside a directory.
func LoadModules(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read policy directory %s: %w", path, err)
		}
		files = files[:0]
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ModuleExt) {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no %s modules in %s", ModuleExt, path)
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", file, err)
		}
		modules[filepath.Base(file)] = string(data)
	}
	return modules, nil
}
