// Package config implements the Configuration Provider: it locates and
// parses locald's INI-style configuration files and yields typed records
// for the daemon and for individual services.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// RestartPolicy controls whether a service is respawned after it exits
// unexpectedly.
type RestartPolicy string

const (
	RestartNever  RestartPolicy = "never"
	RestartAlways RestartPolicy = "always"
)

// ServiceRef is a daemon-config entry pointing at a service's own
// configuration file.
type ServiceRef struct {
	Name        string
	ServicePath string
}

// DaemonConfig is the root "locald" configuration record (spec.md §3).
type DaemonConfig struct {
	SocketPath string
	PidPath    string
	WorkingDir string

	// ConfigDir is the directory the root config file was found in;
	// relative ServicePath and LogPath values resolve against it.
	ConfigDir string

	Services map[string]ServiceRef
	// ServiceOrder lists the declared service names in file order. ALL
	// expansion (client and supervisor) iterates Services instead, so it
	// does not follow this order.
	ServiceOrder []string
}

// ServiceConfig is a single service's own "service" configuration record
// (spec.md §3).
type ServiceConfig struct {
	Name string

	// Command is the already shell-word-split argument vector.
	Command []string

	// LogPath is empty when no log file is configured.
	LogPath string

	// Requires lists dependency service names in declared order, already
	// trimmed of whitespace with empty elements dropped.
	Requires []string

	Restart        RestartPolicy
	RestartSeconds int
}

// Provider yields daemon and service configuration records by name. The
// daemon core depends only on this interface; how the records are found on
// disk is an external collaborator's concern (spec.md §1).
type Provider interface {
	DaemonConfig() (*DaemonConfig, error)
	ServiceConfig(name string) (*ServiceConfig, error)
}

// fileProvider is the default Provider, backed by INI files on disk.
type fileProvider struct {
	rootPath string
	root     *DaemonConfig
}

// NewFileProvider creates a Provider rooted at the given locald.ini path.
func NewFileProvider(rootPath string) (Provider, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root path: %w", err)
	}

	root, err := loadDaemonConfig(abs)
	if err != nil {
		return nil, err
	}

	return &fileProvider{rootPath: abs, root: root}, nil
}

func (p *fileProvider) DaemonConfig() (*DaemonConfig, error) {
	return p.root, nil
}

func (p *fileProvider) ServiceConfig(name string) (*ServiceConfig, error) {
	ref, ok := p.root.Services[name]
	if !ok {
		return nil, fmt.Errorf("config: unknown service %q", name)
	}

	svcPath := ref.ServicePath
	if !filepath.IsAbs(svcPath) {
		svcPath = filepath.Join(p.root.ConfigDir, svcPath)
	}

	return loadServiceConfig(name, svcPath, p.root.ConfigDir)
}

func loadDaemonConfig(path string) (*DaemonConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if !f.HasSection("locald") {
		return nil, fmt.Errorf("config: %s: missing [locald] section", path)
	}
	sec := f.Section("locald")

	cfg := &DaemonConfig{
		ConfigDir: filepath.Dir(path),
		Services:  make(map[string]ServiceRef),
	}

	cfg.SocketPath = sec.Key("socket_path").String()
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("config: %s: socket_path is required", path)
	}

	cfg.PidPath = sec.Key("pid_path").String()
	if cfg.PidPath == "" {
		return nil, fmt.Errorf("config: %s: pid_path is required", path)
	}

	cfg.WorkingDir = sec.Key("working_dir").String()
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = cfg.ConfigDir
	}

	for _, name := range f.SectionStrings() {
		if name == "locald" || name == ini.DefaultSection {
			continue
		}
		servicePath := f.Section(name).Key("service_path").String()
		if servicePath == "" {
			continue
		}
		cfg.Services[name] = ServiceRef{Name: name, ServicePath: servicePath}
		cfg.ServiceOrder = append(cfg.ServiceOrder, name)
	}

	return cfg, nil
}

func loadServiceConfig(name, path, rootConfigDir string) (*ServiceConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if !f.HasSection("service") {
		return nil, fmt.Errorf("config: %s: missing [service] section", path)
	}
	sec := f.Section("service")

	command := sec.Key("command").String()
	if command == "" {
		return nil, fmt.Errorf("config: %s: command is required", path)
	}
	argv, err := SplitWords(command)
	if err != nil {
		return nil, fmt.Errorf("config: %s: invalid command: %w", path, err)
	}

	svc := &ServiceConfig{
		Name:    name,
		Command: argv,
		Restart: RestartNever,
	}

	if logPath := sec.Key("log_path").String(); logPath != "" {
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(rootConfigDir, logPath)
		}
		svc.LogPath = logPath
	}

	if requires := sec.Key("requires").String(); requires != "" {
		for _, r := range strings.Split(requires, ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				svc.Requires = append(svc.Requires, r)
			}
		}
	}

	switch RestartPolicy(sec.Key("restart").String()) {
	case "", RestartNever:
		svc.Restart = RestartNever
	case RestartAlways:
		svc.Restart = RestartAlways
	default:
		return nil, fmt.Errorf("config: %s: invalid restart policy %q", path, sec.Key("restart").String())
	}

	if raw := sec.Key("restart_seconds").String(); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			return nil, fmt.Errorf("config: %s: restart_seconds must be a non-negative integer", path)
		}
		svc.RestartSeconds = seconds
	}

	return svc, nil
}
