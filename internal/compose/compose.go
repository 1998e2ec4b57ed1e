package compose

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the subset of a compose file the agent cares about.
type File struct {
	// Services maps service names to their definitions.
	Services map[string]Service `yaml:"services"`
}

// Service is a single compose service definition.
type Service struct {
	// Image is the image reference the service runs.
	Image string `yaml:"image"`
	// ContainerName is the explicit container name, when set.
	ContainerName string `yaml:"container_name"`
}

const (
	// AgentServiceName is the compose service the agent itself runs as.
	AgentServiceName = "agent"
	// DeviceServiceName is the compose service of the device workload.
	DeviceServiceName = "device"

	// containerNamePrefix prefixes container names for services without
	// an explicit container_name, matching the fleet's compose convention.
	containerNamePrefix = "kiosk-"
)

// errNoServices is returned when the compose file defines no services.
var errNoServices = errors.New("compose file defines no services")

// Load reads and parses the compose file at the provided path.
func Load(path string) (*File, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(contents, &f); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}

	if len(f.Services) == 0 {
		return nil, errNoServices
	}

	return &f, nil
}

// ServiceNames returns every service in the file, sorted for stable iteration.
// Used when the whole stack, agent included, must be brought up.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))

	for name := range f.Services {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ManagedServices returns the services the liveness loop supervises,
// sorted for stable iteration. The agent's own service is excluded.
func (f *File) ManagedServices() []string {
	names := make([]string, 0, len(f.Services))

	for name := range f.Services {
		if name == AgentServiceName {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// HasService reports whether the compose file defines the named service.
func (f *File) HasService(name string) bool {
	_, ok := f.Services[name]

	return ok
}

// ContainerName returns the container name of the named service.
// Services without an explicit container_name follow the fleet convention.
func (f *File) ContainerName(service string) string {
	if svc, ok := f.Services[service]; ok && svc.ContainerName != "" {
		return svc.ContainerName
	}

	return containerNamePrefix + service
}
