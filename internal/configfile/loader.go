// Package configfile loads extraction configuration files: YAML
// sequences of single-key mappings, with include directives expanded in
// place.
package configfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	// ErrFile is returned when a configuration file cannot be read.
	ErrFile = errors.New("config file error")
	// ErrData is returned when a loaded file has the wrong shape.
	ErrData = errors.New("config data error")
	// ErrInclude is returned when an include target cannot be loaded.
	ErrInclude = errors.New("config include error")
)

// Load reads a configuration file and returns its parsed content with
// all include directives expanded. An element {include: path} expands
// in place to the sequence loaded from that file; {include: [path, …]}
// expands to the concatenation. Include paths are resolved relative to
// the directory of the containing file.
func Load(path string) ([]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFile, err)
	}

	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrData, err)
	}

	sequence, ok := data.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: the root data in %q must be a sequence", ErrData, path)
	}

	expanded, err := walk(sequence, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return expanded.([]any), nil
}

// walk expands include directives recursively through nested sequences
// and mappings.
func walk(node any, dir string) (any, error) {
	switch n := node.(type) {
	case []any:
		var result []any
		for _, element := range n {
			if target, ok := includeTarget(element); ok {
				included, err := expandInclude(target, dir)
				if err != nil {
					return nil, err
				}
				result = append(result, included...)
				continue
			}
			walked, err := walk(element, dir)
			if err != nil {
				return nil, err
			}
			result = append(result, walked)
		}
		return result, nil
	case map[string]any:
		for key, value := range n {
			walked, err := walk(value, dir)
			if err != nil {
				return nil, err
			}
			n[key] = walked
		}
		return n, nil
	default:
		return node, nil
	}
}

// includeTarget reports whether an element is a single-key include
// mapping, returning its value.
func includeTarget(element any) (any, bool) {
	mapping, ok := element.(map[string]any)
	if !ok || len(mapping) != 1 {
		return nil, false
	}
	target, ok := mapping["include"]
	return target, ok
}

func expandInclude(target any, dir string) ([]any, error) {
	switch t := target.(type) {
	case string:
		full := filepath.Join(dir, t)
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("%w: unable to locate %q under %q", ErrInclude, t, dir)
		}
		return Load(full)
	case []any:
		var result []any
		for _, element := range t {
			expanded, err := expandInclude(element, dir)
			if err != nil {
				return nil, err
			}
			result = append(result, expanded...)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: include must name a file or a sequence of files", ErrInclude)
	}
}
