package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey pulls other config files into this one. The value is a path or
// a list of paths relative to the including file, and each may be a glob.
// Included files merge in order, then the including file merges on top.
const includeKey = "$include"

// ErrIncludeCycle is returned when a file includes itself, directly or not.
var ErrIncludeCycle = errors.New("config include cycle")

var errMultipleDocuments = errors.New("expected a single YAML document")

// LoadRaw reads path into a generic tree with environment references
// expanded and every $include resolved.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	return (&includeLoader{}).load(path)
}

// includeLoader resolves one include chain. stack holds the files currently
// being loaded, outermost first.
type includeLoader struct {
	stack []string
}

func (l *includeLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.stack, abs) {
		chain := make([]string, 0, len(l.stack)+1)
		for _, p := range append(l.stack, abs) {
			chain = append(chain, filepath.Base(p))
		}
		return nil, fmt.Errorf("%w: %s", ErrIncludeCycle, strings.Join(chain, " -> "))
	}
	l.stack = append(l.stack, abs)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(abs, []byte(expandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}
	includes, err := includePaths(doc, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}

	tree := map[string]any{}
	for _, inc := range includes {
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		deepMerge(tree, sub)
	}
	deepMerge(tree, doc)
	return tree, nil
}

// expandEnv substitutes $VAR and ${VAR} references. ${VAR:-fallback} uses
// fallback when VAR is unset or empty. The $include key is left alone.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		if "$"+key == includeKey {
			return includeKey
		}
		name, fallback, hasFallback := strings.Cut(key, ":-")
		value := os.Getenv(name)
		if value == "" && hasFallback {
			return fallback
		}
		return value
	})
}

// decodeDocument parses one file by extension: .json and .json5 as JSON5,
// anything else as YAML. An empty file is an empty tree.
func decodeDocument(path string, data []byte) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
		} else if err := dec.Decode(new(yaml.Node)); !errors.Is(err, io.EOF) {
			return nil, errMultipleDocuments
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// includePaths removes the $include directive from doc and returns the files
// it names, resolved against baseDir. A glob that matches nothing adds nothing.
func includePaths(doc map[string]any, baseDir string) ([]string, error) {
	value, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var patterns []string
	switch v := value.(type) {
	case nil:
	case string:
		patterns = []string{v}
	case []any:
		for i, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", includeKey, i)
			}
			patterns = append(patterns, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths", includeKey)
	}

	var paths []string
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}
		if !strings.ContainsAny(pattern, "*?[") {
			paths = append(paths, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", includeKey, pattern, err)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

// deepMerge merges src into dst. Maps present on both sides merge key by
// key; any other src value replaces dst's.
func deepMerge(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}

// decodeConfig decodes a merged tree into Config, rejecting unknown keys.
func decodeConfig(tree map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
