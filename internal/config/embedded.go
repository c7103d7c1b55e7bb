package config

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed config.env
var embeddedDefaults string

// LoadEmbedded decodes Config from the build-time embedded default
// environment, without touching the process environment or any file on
// disk. Useful for a statically-configured binary (e.g. a container
// image baked with its own server address).
func LoadEmbedded() (Config, error) {
	env := parseEnvLines(embeddedDefaults)

	cfg := Config{
		TUNName:    "tun0",
		PoolV4CIDR: "10.0.0.0/24",
		PoolV6CIDR: "fd00:0:0:1::/64",
	}
	if v, ok := env["SERVER_ADDR"]; ok {
		cfg.ServerAddr = v
	}
	if v, ok := env["SERVER_PORT"]; ok {
		var port uint16
		if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
			return Config{}, &Error{cause: fmt.Errorf("parse embedded SERVER_PORT %q: %w", v, err)}
		}
		cfg.ServerPort = port
	}
	if v, ok := env["TUN_NAME"]; ok {
		cfg.TUNName = v
	}
	if v, ok := env["POOL_V4_CIDR"]; ok {
		cfg.PoolV4CIDR = v
	}
	if v, ok := env["POOL_V6_CIDR"]; ok {
		cfg.PoolV6CIDR = v
	}
	if v, ok := env["CLIENT_ID"]; ok {
		cfg.ClientID = v
	}

	if cfg.ServerAddr == "" {
		return Config{}, &Error{cause: fmt.Errorf("embedded config missing SERVER_ADDR")}
	}
	if cfg.ServerPort == 0 {
		return Config{}, &Error{cause: fmt.Errorf("embedded config missing SERVER_PORT")}
	}
	return cfg, nil
}

func parseEnvLines(src string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}
