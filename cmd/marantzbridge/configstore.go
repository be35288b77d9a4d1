package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Config write-back
// ============================================================================
//
// Runtime changes (receiver address, input names) are saved into the config
// file the daemon was started with.
//
// Notes:
//   - YAML files are edited in place at the node level so comments and
//     untouched keys survive.
//   - TOML files are re-encoded from the loaded config.
//   - The result is written to a temp file in the same directory, checked
//     with LoadConfigFile and renamed over the original.
//
// ============================================================================

// ConfigStore saves runtime changes into one config file.
type ConfigStore struct {
	mu   sync.Mutex
	path string
}

func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: ExpandPath(path)}
}

func (s *ConfigStore) Path() string { return s.path }

// SaveReceiverHost stores the receiver's TCP host.
func (s *ConfigStore) SaveReceiverHost(host string) error {
	return s.update([]string{"receiver", "host"}, host, func(c *Config) {
		c.Receiver.Host = host
	})
}

// SaveInputNames stores the names that differ from the factory labels.
func (s *ConfigStore) SaveInputNames(names map[string]string) error {
	custom := customInputNames(names)
	return s.update([]string{"input_names"}, custom, func(c *Config) {
		c.InputNames = custom
	})
}

func (s *ConfigStore) update(yamlPath []string, value any, apply func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if isTOML(s.path) {
		data, err = s.encodeTOML(apply)
	} else {
		data, err = s.editYAML(yamlPath, value)
	}
	if err != nil {
		return err
	}
	return replaceFile(s.path, data)
}

func (s *ConfigStore) encodeTOML(apply func(*Config)) ([]byte, error) {
	cfg, err := LoadConfigFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	apply(&cfg)
	cfg.InputNames = customInputNames(cfg.InputNames)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config toml: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *ConfigStore) editYAML(path []string, value any) ([]byte, error) {
	var doc yaml.Node
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode config yaml: %w", err)
		}
	}

	// An empty or comment-only file has no root mapping yet.
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if err := setYAMLValue(doc.Content[0], path, value); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// setYAMLValue sets the key at path below the mapping m, creating missing
// intermediate mappings.
func setYAMLValue(m *yaml.Node, path []string, value any) error {
	if m.Kind != yaml.MappingNode {
		return fmt.Errorf("config yaml: %s is not a mapping", strings.Join(path, "."))
	}
	key, rest := path[0], path[1:]

	var slot *yaml.Node
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			slot = m.Content[i+1]
			break
		}
	}
	if slot == nil {
		slot = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, slot)
	}

	if len(rest) > 0 {
		if slot.Kind == yaml.ScalarNode && slot.Tag == "!!null" {
			*slot = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		return setYAMLValue(slot, rest, value)
	}

	var v yaml.Node
	if err := v.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	// Keep any comments attached to the old value.
	v.HeadComment, v.LineComment, v.FootComment = slot.HeadComment, slot.LineComment, slot.FootComment
	*slot = v
	return nil
}

// replaceFile writes data next to path, checks that it still loads, and
// renames it over path.
func replaceFile(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ext)+"-*"+ext)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}

	if _, err := LoadConfigFile(tmpName); err != nil {
		return fmt.Errorf("rewritten config does not load: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// customInputNames drops entries equal to the factory label.
func customInputNames(names map[string]string) map[string]string {
	defaults := DefaultInputNames()
	out := make(map[string]string)
	for code, name := range names {
		if defaults[code] != name {
			out[code] = name
		}
	}
	return out
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
