// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// ServerConfig holds every setting a relay server process needs, sourced
// from environment variables (BIND_ADDRESS, CLIENT_WS_PORT, OLAF_LOG_LEVEL
// and the like) plus an optional YAML overlay.
type ServerConfig struct {
	BindAddress        string   `yaml:"bind_address"`
	ClientWSPort       int      `yaml:"client_ws_port"`
	ServerWSPort       int      `yaml:"server_ws_port"`
	HTTPPort           int      `yaml:"http_port"`
	NeighbourAddresses []string `yaml:"neighbour_addresses"`
	ExternalAddress    string   `yaml:"external_address"`
	LogMessages        bool     `yaml:"log_messages"`
	LogLevel           string   `yaml:"log_level"`
	MetricsPort        int      `yaml:"metrics_port"`
	ConfigDir          string   `yaml:"config_dir"`
}

// ClientConfig holds every setting a client process needs.
type ClientConfig struct {
	ServerAddress     string `yaml:"server_address"`
	ServerPort        int    `yaml:"server_port"`
	HTTPPort          int    `yaml:"http_port"`
	FacadePort        int    `yaml:"facade_port"`
	ClientName        string `yaml:"client_name"`
	MessageExpiryTime int    `yaml:"message_expiry_time"`
	LogLevel          string `yaml:"log_level"`
	MetricsPort       int    `yaml:"metrics_port"`
	ConfigDir         string `yaml:"config_dir"`
}

type serverOverlay struct {
	BindAddress        *string  `yaml:"bind_address"`
	ClientWSPort       *int     `yaml:"client_ws_port"`
	ServerWSPort       *int     `yaml:"server_ws_port"`
	HTTPPort           *int     `yaml:"http_port"`
	NeighbourAddresses []string `yaml:"neighbour_addresses"`
	ExternalAddress    *string  `yaml:"external_address"`
	LogMessages        *bool    `yaml:"log_messages"`
	LogLevel           *string  `yaml:"log_level"`
	MetricsPort        *int     `yaml:"metrics_port"`
	ConfigDir          *string  `yaml:"config_dir"`
}

type clientOverlay struct {
	ServerAddress     *string `yaml:"server_address"`
	ServerPort        *int    `yaml:"server_port"`
	HTTPPort          *int    `yaml:"http_port"`
	FacadePort        *int    `yaml:"facade_port"`
	ClientName        *string `yaml:"client_name"`
	MessageExpiryTime *int    `yaml:"message_expiry_time"`
	LogLevel          *string `yaml:"log_level"`
	MetricsPort       *int    `yaml:"metrics_port"`
	ConfigDir         *string `yaml:"config_dir"`
}

// LoadServerConfig builds a ServerConfig from the environment, loading
// OLAF_ENV_FILE first (if set) and overlaying OLAF_CONFIG_FILE (if set).
// Environment variables always win over the YAML overlay.
func LoadServerConfig() (*ServerConfig, error) {
	if err := LoadDotEnv(os.Getenv("OLAF_ENV_FILE")); err != nil {
		return nil, errs.Config("failed to load env file", err)
	}

	cfg := &ServerConfig{
		BindAddress:  envOr("BIND_ADDRESS", "0.0.0.0"),
		ClientWSPort: 0,
		ServerWSPort: 0,
		HTTPPort:     0,
		LogMessages:  envBool("LOG_MESSAGES", false),
		LogLevel:     envOr("OLAF_LOG_LEVEL", "INFO"),
		ConfigDir:    envOr("OLAF_CONFIG_DIR", "."),
	}

	var err error
	if cfg.ClientWSPort, err = envInt("CLIENT_WS_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.ServerWSPort, err = envInt("SERVER_WS_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = envInt("METRICS_PORT", 0); err != nil {
		return nil, err
	}
	cfg.ExternalAddress = os.Getenv("EXTERNAL_ADDRESS")
	cfg.NeighbourAddresses = splitCommaList(os.Getenv("NEIGHBOUR_ADDRESSES"))

	if overlayPath := os.Getenv("OLAF_CONFIG_FILE"); overlayPath != "" {
		if err := applyServerOverlay(cfg, overlayPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClientConfig builds a ClientConfig from the environment.
func LoadClientConfig() (*ClientConfig, error) {
	if err := LoadDotEnv(os.Getenv("OLAF_ENV_FILE")); err != nil {
		return nil, errs.Config("failed to load env file", err)
	}

	cfg := &ClientConfig{
		ServerAddress: envOr("SERVER_ADDRESS", "localhost"),
		ClientName:    envOr("CLIENT_NAME", ""),
		LogLevel:      envOr("OLAF_LOG_LEVEL", "INFO"),
		ConfigDir:     envOr("OLAF_CONFIG_DIR", "."),
	}

	var err error
	if cfg.ServerPort, err = envInt("SERVER_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.FacadePort, err = envInt("FACADE_PORT", 7878); err != nil {
		return nil, err
	}
	if cfg.MessageExpiryTime, err = envInt("MESSAGE_EXPIRY_TIME", -1); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = envInt("METRICS_PORT", 0); err != nil {
		return nil, err
	}

	if overlayPath := os.Getenv("OLAF_CONFIG_FILE"); overlayPath != "" {
		if err := applyClientOverlay(cfg, overlayPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every field required for the server to bind its
// listeners is present.
func (c *ServerConfig) Validate() error {
	if c.BindAddress == "" {
		return errs.Config("BIND_ADDRESS must not be empty", nil)
	}
	if c.ClientWSPort <= 0 {
		return errs.Config("CLIENT_WS_PORT must be a positive port", nil)
	}
	if c.ServerWSPort <= 0 {
		return errs.Config("SERVER_WS_PORT must be a positive port", nil)
	}
	if c.HTTPPort <= 0 {
		return errs.Config("HTTP_PORT must be a positive port", nil)
	}
	return nil
}

// Validate checks that every field required to dial the home server is present.
func (c *ClientConfig) Validate() error {
	if c.ServerAddress == "" {
		return errs.Config("SERVER_ADDRESS must not be empty", nil)
	}
	if c.ServerPort <= 0 {
		return errs.Config("SERVER_PORT must be a positive port", nil)
	}
	if c.ClientName == "" {
		return errs.Config("CLIENT_NAME must not be empty", nil)
	}
	return nil
}

func applyServerOverlay(cfg *ServerConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Config("failed to read config file", err)
	}
	var ov serverOverlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return errs.Config("failed to parse config file", err)
	}
	if ov.BindAddress != nil && os.Getenv("BIND_ADDRESS") == "" {
		cfg.BindAddress = *ov.BindAddress
	}
	if ov.ClientWSPort != nil && os.Getenv("CLIENT_WS_PORT") == "" {
		cfg.ClientWSPort = *ov.ClientWSPort
	}
	if ov.ServerWSPort != nil && os.Getenv("SERVER_WS_PORT") == "" {
		cfg.ServerWSPort = *ov.ServerWSPort
	}
	if ov.HTTPPort != nil && os.Getenv("HTTP_PORT") == "" {
		cfg.HTTPPort = *ov.HTTPPort
	}
	if len(ov.NeighbourAddresses) > 0 && os.Getenv("NEIGHBOUR_ADDRESSES") == "" {
		cfg.NeighbourAddresses = ov.NeighbourAddresses
	}
	if ov.ExternalAddress != nil && os.Getenv("EXTERNAL_ADDRESS") == "" {
		cfg.ExternalAddress = *ov.ExternalAddress
	}
	if ov.LogMessages != nil && os.Getenv("LOG_MESSAGES") == "" {
		cfg.LogMessages = *ov.LogMessages
	}
	if ov.LogLevel != nil && os.Getenv("OLAF_LOG_LEVEL") == "" {
		cfg.LogLevel = *ov.LogLevel
	}
	if ov.MetricsPort != nil && os.Getenv("METRICS_PORT") == "" {
		cfg.MetricsPort = *ov.MetricsPort
	}
	if ov.ConfigDir != nil && os.Getenv("OLAF_CONFIG_DIR") == "" {
		cfg.ConfigDir = *ov.ConfigDir
	}
	return nil
}

func applyClientOverlay(cfg *ClientConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.Config("failed to read config file", err)
	}
	var ov clientOverlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return errs.Config("failed to parse config file", err)
	}
	if ov.ServerAddress != nil && os.Getenv("SERVER_ADDRESS") == "" {
		cfg.ServerAddress = *ov.ServerAddress
	}
	if ov.ServerPort != nil && os.Getenv("SERVER_PORT") == "" {
		cfg.ServerPort = *ov.ServerPort
	}
	if ov.HTTPPort != nil && os.Getenv("HTTP_PORT") == "" {
		cfg.HTTPPort = *ov.HTTPPort
	}
	if ov.FacadePort != nil && os.Getenv("FACADE_PORT") == "" {
		cfg.FacadePort = *ov.FacadePort
	}
	if ov.ClientName != nil && os.Getenv("CLIENT_NAME") == "" {
		cfg.ClientName = *ov.ClientName
	}
	if ov.MessageExpiryTime != nil && os.Getenv("MESSAGE_EXPIRY_TIME") == "" {
		cfg.MessageExpiryTime = *ov.MessageExpiryTime
	}
	if ov.LogLevel != nil && os.Getenv("OLAF_LOG_LEVEL") == "" {
		cfg.LogLevel = *ov.LogLevel
	}
	if ov.MetricsPort != nil && os.Getenv("METRICS_PORT") == "" {
		cfg.MetricsPort = *ov.MetricsPort
	}
	if ov.ConfigDir != nil && os.Getenv("OLAF_CONFIG_DIR") == "" {
		cfg.ConfigDir = *ov.ConfigDir
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errs.Config(key+" must be an integer", err)
	}
	return n, nil
}

func splitCommaList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MessageExpiry converts MessageExpiryTime into a time.Duration, returning
// (0, true) for "keep forever" (negative values) and (0, false) for
// "drop immediately" (zero).
func (c *ClientConfig) MessageExpiry() (d time.Duration, forever bool) {
	switch {
	case c.MessageExpiryTime < 0:
		return 0, true
	case c.MessageExpiryTime == 0:
		return 0, false
	default:
		return time.Duration(c.MessageExpiryTime) * time.Second, false
	}
}
