// Package config loads the server/client address configuration from the
// environment, optionally overlaid with a .env file, mirroring the
// dotenv+envy pair the original implementation used.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process's typed configuration, decoded from environment
// variables. ServerAddr/ServerPort are used by both binaries (the
// server to bind, the client to dial). The TUN name and pool CIDRs are
// also read by both: the server allocates from the pools, the client
// takes the subnet masks for its own TUN addresses from them. ClientID
// is read by the client only (a blank value means generate one and print
// it for the operator to persist).
type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" required:"true"`
	ServerPort uint16 `envconfig:"SERVER_PORT" required:"true"`

	TUNName    string `envconfig:"TUN_NAME" default:"tun0"`
	PoolV4CIDR string `envconfig:"POOL_V4_CIDR" default:"10.0.0.0/24"`
	PoolV6CIDR string `envconfig:"POOL_V6_CIDR" default:"fd00:0:0:1::/64"`

	ClientID string `envconfig:"CLIENT_ID"`
}

// Error wraps any failure to load or validate configuration; the caller
// aborts startup before opening a socket or TUN device on this error.
type Error struct {
	cause error
}

func (e *Error) Error() string { return fmt.Sprintf("config: %v", e.cause) }
func (e *Error) Unwrap() error { return e.cause }

// Load reads an optional .env file into the process environment (a
// missing file is not an error) and decodes Config from the resulting
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !isNotExist(err) {
		return Config{}, &Error{cause: fmt.Errorf("load .env: %w", err)}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, &Error{cause: fmt.Errorf("decode environment: %w", err)}
	}
	return cfg, nil
}
