package models

import (
	"fmt"
	"strings"
	"time"
)

// ProxyType identifies the proxy implementation a definition deploys.
type ProxyType string

const (
	ProxyTypeVelocity   ProxyType = "velocity"
	ProxyTypeBungeeCord ProxyType = "bungeecord"
	ProxyTypeWaterfall  ProxyType = "waterfall"
)

// ProxyStackPrefix prefixes every stack the reconciler manages. Stacks
// carrying the prefix but absent from the definitions file are treated as
// orphans and stopped.
const ProxyStackPrefix = "mc-proxy-"

// ProxyDefinition declares one front proxy of the fleet. The fleet is a
// YAML file on disk, reloaded when its mtime changes.
type ProxyDefinition struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Host         string    `yaml:"host" json:"host"`
	ExternalPort int       `yaml:"external_port" json:"external-port"`
	ConfigPath   string    `yaml:"config_path" json:"config-path"`
	NetworkName  string    `yaml:"network_name" json:"network-name"`
	Memory       string    `yaml:"memory" json:"memory"`
	Type         ProxyType `yaml:"type" json:"type"`
	Enabled      *bool     `yaml:"enabled,omitempty" json:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (d *ProxyDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// StackName is the engine stack name for the proxy.
func (d *ProxyDefinition) StackName() string {
	return ProxyStackPrefix + d.Name
}

// ConfigFileName returns the config file the proxy type reads.
func (d *ProxyDefinition) ConfigFileName() string {
	if d.Type == ProxyTypeVelocity {
		return "velocity.toml"
	}
	return "config.yml"
}

// Validate checks the fields the reconciler cannot work without.
func (d *ProxyDefinition) Validate() error {
	if d.ID == "" || d.Name == "" {
		return fmt.Errorf("proxy definition needs id and name")
	}
	if strings.ContainsAny(d.Name, " /\\") {
		return fmt.Errorf("proxy name %q contains illegal characters", d.Name)
	}
	switch d.Type {
	case ProxyTypeVelocity, ProxyTypeBungeeCord, ProxyTypeWaterfall:
	default:
		return fmt.Errorf("unsupported proxy type %q", d.Type)
	}
	if d.ExternalPort <= 0 || d.ExternalPort > 65535 {
		return fmt.Errorf("proxy %s external port %d out of range", d.Name, d.ExternalPort)
	}
	if d.ConfigPath == "" {
		return fmt.Errorf("proxy %s needs a config_path", d.Name)
	}
	return nil
}

// ProxyHealth is a liveness snapshot of one proxy, as last observed by the
// reconciler.
type ProxyHealth struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        ProxyType `json:"type"`
	Status      string    `json:"status"`
	ContainerID string    `json:"container-id,omitempty"`
	LastChecked time.Time `json:"last-checked"`
}

// StepReport records the outcome of one lifecycle step. Delete returns the
// full ordered list regardless of individual failures.
type StepReport struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AllSucceeded is the aggregate success of a report list.
func AllSucceeded(reports []StepReport) bool {
	for _, r := range reports {
		if !r.Success {
			return false
		}
	}
	return true
}
