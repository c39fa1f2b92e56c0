package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MiddlewareSpec is one entry in a headers_middleware config list. Name
// selects a built-in middleware; UserAgent is only meaningful when
// Name == "user-agent-override".
type MiddlewareSpec struct {
	Name      string `yaml:"name"`
	UserAgent string `yaml:"user_agent,omitempty"`
}

// MiddlewareFile is the structured overlay document: an ordered list of
// header middlewares, expressed as config-file data rather than flat env
// vars because it is inherently a list, following how the wider pack
// (caddyserver-caddy) treats proxy behavior as structured file config.
type MiddlewareFile struct {
	HeadersMiddleware []MiddlewareSpec `yaml:"headers_middleware"`
}

// LoadMiddlewareFile reads and parses a YAML middleware overlay. An empty
// path is not an error — it simply means "use the default chain".
func LoadMiddlewareFile(path string) (*MiddlewareFile, error) {
	if path == "" {
		return &MiddlewareFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read middleware file %s: %w", path, err)
	}
	var mf MiddlewareFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("config: parse middleware file %s: %w", path, err)
	}
	return &mf, nil
}
