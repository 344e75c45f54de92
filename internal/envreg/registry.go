// Package envreg loads the per-environment registry file. The registry is
// read once at startup and handed to the pipeline as an immutable snapshot;
// nothing in the core reads it from disk mid-run.
package envreg

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotRegistered indicates the requested environment has no registry entry.
var ErrNotRegistered = errors.New("envreg: environment not registered")

// Environment describes one deployable instance of the application stack.
type Environment struct {
	Name             string
	Root             string
	Docroot          string
	Runtime          string
	DatabaseURL      string
	LiveHost         string
	ProductionDomain string
	SiteURL          string
	BackupDir        string
	BackupMaxAge     time.Duration
	MigrationsDir    string
	Excludes         []string
}

type environmentYAML struct {
	Root             string   `yaml:"root"`
	Docroot          string   `yaml:"docroot"`
	Runtime          string   `yaml:"runtime"`
	DatabaseURL      string   `yaml:"database_url"`
	LiveHost         string   `yaml:"live_host"`
	ProductionDomain string   `yaml:"production_domain"`
	SiteURL          string   `yaml:"site_url"`
	BackupDir        string   `yaml:"backup_dir"`
	BackupMaxAge     string   `yaml:"backup_max_age"`
	MigrationsDir    string   `yaml:"migrations_dir"`
	Excludes         []string `yaml:"protected_paths"`
}

// UnmarshalYAML decodes an entry, parsing backup_max_age as a Go duration
// string ("6h", "90m").
func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	var aux environmentYAML
	if err := node.Decode(&aux); err != nil {
		return err
	}
	e.Root = aux.Root
	e.Docroot = aux.Docroot
	e.Runtime = aux.Runtime
	e.DatabaseURL = aux.DatabaseURL
	e.LiveHost = aux.LiveHost
	e.ProductionDomain = aux.ProductionDomain
	e.SiteURL = aux.SiteURL
	e.BackupDir = aux.BackupDir
	e.MigrationsDir = aux.MigrationsDir
	e.Excludes = aux.Excludes
	if aux.BackupMaxAge != "" {
		parsed, err := time.ParseDuration(aux.BackupMaxAge)
		if err != nil {
			return fmt.Errorf("backup_max_age: %w", err)
		}
		e.BackupMaxAge = parsed
	}
	return nil
}

// Registry is a read-only snapshot of the environment registry file.
type Registry struct {
	envs map[string]Environment
}

type registryFile struct {
	Environments map[string]Environment `yaml:"environments"`
}

// DefaultBackupMaxAge applies when an entry does not set backup_max_age.
const DefaultBackupMaxAge = 24 * time.Hour

// Load reads and validates the registry file at path.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Registry from raw YAML.
func Parse(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(file.Environments) == 0 {
		return nil, errors.New("parse registry: no environments defined")
	}
	envs := make(map[string]Environment, len(file.Environments))
	for name, env := range file.Environments {
		env.Name = name
		if env.Root == "" {
			return nil, fmt.Errorf("parse registry: environment %q has no root", name)
		}
		if env.Runtime == "" {
			env.Runtime = name
		}
		if env.BackupMaxAge <= 0 {
			env.BackupMaxAge = DefaultBackupMaxAge
		}
		envs[name] = env
	}
	return &Registry{envs: envs}, nil
}

// Lookup returns the environment registered under name.
func (r *Registry) Lookup(name string) (Environment, error) {
	env, ok := r.envs[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return env, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.envs[name]
	return ok
}

// Names lists registered environment names in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	return names
}
