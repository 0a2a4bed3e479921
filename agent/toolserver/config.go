package toolserver

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	configx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/config"
)

type Transport string

const (
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

const (
	urlSuffix       = "_MCP_URL"
	transportSuffix = "_MCP_TRANSPORT"
)

type Config struct {
	ServersFile     string        `envconfig:"MCP_SERVERS_FILE"`
	RequiredServers []string      `envconfig:"MCP_REQUIRED_SERVERS"`
	ToolTimeout     time.Duration `envconfig:"TOOL_TIMEOUT" default:"30s"`
	ConnectTimeout  time.Duration `envconfig:"MCP_CONNECT_TIMEOUT" default:"10s"`

	ConnectAttempts   int           `envconfig:"MCP_CONNECT_ATTEMPTS" default:"3"`
	BackoffInitial    time.Duration `envconfig:"MCP_BACKOFF_INITIAL" default:"500ms"`
	BackoffMultiplier float64       `envconfig:"MCP_BACKOFF_MULTIPLIER" default:"4"`
	BackoffMax        time.Duration `envconfig:"MCP_BACKOFF_MAX" default:"8s"`
}

// DefaultConfig mirrors the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		ToolTimeout:       30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		ConnectAttempts:   3,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMultiplier: 4,
		BackoffMax:        8 * time.Second,
	}
}

// ServerConfig is one statically configured tool-server endpoint.
type ServerConfig struct {
	Name      string    `yaml:"-"`
	URL       string    `yaml:"url"`
	Transport Transport `yaml:"transport"`
	Required  bool      `yaml:"required"`
}

type serversFile struct {
	Servers map[string]ServerConfig `yaml:"servers"`
}

// DiscoverServers merges {NAME}_MCP_URL variables with the optional YAML
// catalogue. File entries win on name clashes. The result is sorted by name.
func DiscoverServers(cfg Config) ([]ServerConfig, error) {
	urls, err := configx.LookupSuffix(urlSuffix)
	if err != nil {
		return nil, err
	}

	byName := map[string]ServerConfig{}
	for envName, url := range urls {
		name := strings.ToLower(envName)
		byName[name] = ServerConfig{
			Name:      name,
			URL:       url,
			Transport: Transport(strings.ToLower(strings.TrimSpace(os.Getenv(envName + transportSuffix)))),
		}
	}

	if path := strings.TrimSpace(cfg.ServersFile); path != "" {
		fromFile, err := LoadServersFile(path)
		if err != nil {
			return nil, err
		}
		for _, srv := range fromFile {
			byName[srv.Name] = srv
		}
	}

	required := map[string]bool{}
	for _, name := range cfg.RequiredServers {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			required[name] = true
		}
	}

	out := make([]ServerConfig, 0, len(byName))
	for _, srv := range byName {
		if required[srv.Name] {
			srv.Required = true
		}
		norm, err := normalizeServer(srv)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func LoadServersFile(path string) ([]ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool server file: %w", err)
	}

	var file serversFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: parse tool server file %s: %v", contractx.ErrValidation, path, err)
	}

	out := make([]ServerConfig, 0, len(file.Servers))
	for name, srv := range file.Servers {
		srv.Name = strings.ToLower(strings.TrimSpace(name))
		norm, err := normalizeServer(srv)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func normalizeServer(srv ServerConfig) (ServerConfig, error) {
	srv.URL = strings.TrimSpace(srv.URL)
	if srv.Name == "" {
		return srv, fmt.Errorf("%w: tool server name is empty", contractx.ErrValidation)
	}
	if srv.URL == "" {
		return srv, fmt.Errorf("%w: tool server %s has no url", contractx.ErrValidation, srv.Name)
	}
	switch srv.Transport {
	case "":
		srv.Transport = TransportSSE
	case TransportSSE, TransportStreamableHTTP:
	default:
		return srv, fmt.Errorf("%w: tool server %s has unknown transport %q", contractx.ErrValidation, srv.Name, srv.Transport)
	}
	return srv, nil
}
