package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MountSpec binds a logical server to a path prefix.
type MountSpec struct {
	Prefix string `yaml:"prefix"`
	Server string `yaml:"server"`
}

type mountFile struct {
	Mounts []MountSpec `yaml:"mounts"`
}

// DefaultMounts is the layout used when no mount file is configured.
func DefaultMounts() []MountSpec {
	return []MountSpec{
		{Prefix: "/mcp", Server: "auth"},
		{Prefix: "/mcp2", Server: "search"},
		{Prefix: "/mcp3", Server: "cart"},
		{Prefix: "/mcp4", Server: "membership"},
	}
}

// LoadMounts reads the mount file at path, or returns DefaultMounts when
// path is empty.
func LoadMounts(path string) ([]MountSpec, error) {
	if path == "" {
		return DefaultMounts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mount file: %w", err)
	}
	mounts, err := ParseMounts(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mounts, nil
}

// ParseMounts decodes a YAML mount document. Unknown keys are rejected.
func ParseMounts(data []byte) ([]MountSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f mountFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("mount file is empty")
		}
		return nil, fmt.Errorf("parse mount file: %w", err)
	}
	if len(f.Mounts) == 0 {
		return nil, errors.New("mount file declares no mounts")
	}
	seen := make(map[string]bool, len(f.Mounts))
	for i, m := range f.Mounts {
		switch {
		case !strings.HasPrefix(m.Prefix, "/"):
			return nil, fmt.Errorf("mounts[%d]: prefix %q must start with /", i, m.Prefix)
		case m.Server == "":
			return nil, fmt.Errorf("mounts[%d]: server is required", i)
		case seen[m.Prefix]:
			return nil, fmt.Errorf("mounts[%d]: duplicate prefix %s", i, m.Prefix)
		}
		seen[m.Prefix] = true
	}
	return f.Mounts, nil
}
