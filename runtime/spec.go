package runtime

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"

	nat "github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"gopkg.in/yaml.v3"
)

var (
	// ErrImageRequired is returned when a service names no image
	ErrImageRequired = errors.New("service image is required")

	// ErrInvalidPort is returned when a port mapping cannot be parsed
	ErrInvalidPort = errors.New("invalid port mapping")
)

// ServiceSpec describes one container in the compose-file vocabulary.
type ServiceSpec struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Runtime       string            `yaml:"runtime,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	ReadOnly      bool              `yaml:"read_only,omitempty"`
	SecurityOpt   []string          `yaml:"security_opt,omitempty"`
	NetworkMode   string            `yaml:"network_mode,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
}

// LoadServiceSpec reads a ServiceSpec from a YAML file.
func LoadServiceSpec(path string) (*ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service spec: %w", err)
	}
	var spec ServiceSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse service spec %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec can be turned into container configuration.
func (s *ServiceSpec) Validate() error {
	if s.Image == "" {
		return ErrImageRequired
	}
	_, _, err := s.ports()
	return err
}

// ContainerConfig converts the spec into create-time configuration. Environment
// variables are sorted by key.
func (s *ServiceSpec) ContainerConfig() (*container.Config, *container.HostConfig, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	exposed, bindings, err := s.ports()
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Environment[k])
	}

	cfg := &container.Config{
		Image:        s.Image,
		Env:          env,
		Cmd:          s.Command,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Runtime:        s.Runtime,
		Binds:          s.Volumes,
		ReadonlyRootfs: s.ReadOnly,
		SecurityOpt:    s.SecurityOpt,
		NetworkMode:    container.NetworkMode(s.NetworkMode),
		PortBindings:   bindings,
		LogConfig: container.LogConfig{
			Type: "json-file",
			Config: map[string]string{
				"max-size": "10m",
				"max-file": "3",
			},
		},
	}
	return cfg, hostCfg, nil
}

// ports parses mappings such as "127.0.0.1:19001:8080" with nat and converts them to
// the API's network types.
func (s *ServiceSpec) ports() (network.PortSet, network.PortMap, error) {
	exposed := network.PortSet{}
	bindings := network.PortMap{}

	for _, mapping := range s.Ports {
		specs, err := nat.ParsePortSpec(mapping)
		if err != nil {
			return nil, nil, fmt.Errorf("%w %q: %v", ErrInvalidPort, mapping, err)
		}
		for _, ps := range specs {
			port, err := network.ParsePort(string(ps.Port))
			if err != nil {
				return nil, nil, fmt.Errorf("%w %q: %v", ErrInvalidPort, mapping, err)
			}
			exposed[port] = struct{}{}

			var hostIP netip.Addr
			if ps.Binding.HostIP != "" {
				if hostIP, err = netip.ParseAddr(ps.Binding.HostIP); err != nil {
					return nil, nil, fmt.Errorf("%w %q: %v", ErrInvalidPort, mapping, err)
				}
			}
			bindings[port] = append(bindings[port], network.PortBinding{
				HostIP:   hostIP,
				HostPort: ps.Binding.HostPort,
			})
		}
	}
	return exposed, bindings, nil
}
