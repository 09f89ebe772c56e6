package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RouteRule maps a path prefix to a backend API
type RouteRule struct {
	Name         string `yaml:"name"`
	PathPrefix   string `yaml:"path"`
	Backend      string `yaml:"backend"`
	RequiresAuth bool   `yaml:"requiresAuth"`
	StripPrefix  bool   `yaml:"stripPrefix"`
}

type routeFile struct {
	Routes []RouteRule `yaml:"routes"`
}

// LoadRoutes reads the proxied route table from a YAML file:
//
//	routes:
//	  - name: orders
//	    path: /api/orders
//	    backend: https://orders.internal:8443
//	    requiresAuth: true
//
// An empty path yields an empty table.
func LoadRoutes(path string) ([]RouteRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file %s: %w", path, err)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route table
func ParseRoutes(data []byte) ([]RouteRule, error) {
	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	for i := range rf.Routes {
		rf.Routes[i].PathPrefix = normalisePrefix(rf.Routes[i].PathPrefix)
	}
	if err := ValidateRoutes(rf.Routes); err != nil {
		return nil, err
	}
	return rf.Routes, nil
}

// ValidateRoutes rejects relative prefixes, non http(s) backends and duplicates
func ValidateRoutes(routes []RouteRule) error {
	seen := make(map[string]struct{}, len(routes))
	for i, r := range routes {
		if !strings.HasPrefix(r.PathPrefix, "/") {
			return fmt.Errorf("route %d (%s): path %q must start with /", i, r.Name, r.PathPrefix)
		}
		u, err := url.Parse(r.Backend)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("route %d (%s): backend %q must be an absolute http(s) URL", i, r.Name, r.Backend)
		}
		if _, dup := seen[r.PathPrefix]; dup {
			return fmt.Errorf("route %d (%s): duplicate path %q", i, r.Name, r.PathPrefix)
		}
		seen[r.PathPrefix] = struct{}{}
	}
	return nil
}

func normalisePrefix(prefix string) string {
	if prefix == "/" {
		return prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
