// Package config loads the declarative project config (.devloop.yaml) and
// normalizes it into the immutable service specs the engine consumes.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/devloop/pkg/engine"
)

const DefaultConfigFilename = ".devloop.yaml"

type File struct {
	Project  string    `yaml:"project,omitempty"`
	Services []Service `yaml:"services"`
}

type Service struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind,omitempty"` // "native" (default) | "container"
	Command     []string          `yaml:"command,omitempty"`
	Image       string            `yaml:"image,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Healthcheck *Healthcheck      `yaml:"healthcheck,omitempty"`
	Profiles    []string          `yaml:"profiles,omitempty"`
}

// Healthcheck accepts either a non-negative integer (seconds to wait after
// start) or a URL string (polled with GET).
type Healthcheck struct {
	Seconds int
	URL     string
}

func (h *Healthcheck) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.New("healthcheck must be a number of seconds or a URL")
	}
	if n, err := strconv.Atoi(node.Value); err == nil {
		if n < 0 {
			return errors.Errorf("healthcheck seconds must be >= 0, got %d", n)
		}
		h.Seconds = n
		return nil
	}
	if !strings.HasPrefix(node.Value, "http://") && !strings.HasPrefix(node.Value, "https://") {
		return errors.Errorf("healthcheck %q is neither seconds nor an http(s) URL", node.Value)
	}
	h.URL = node.Value
	return nil
}

func DefaultPath(root string) string {
	return filepath.Join(root, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return &cfg, nil
}

// Normalize validates the file and produces the spec snapshot the engine
// consumes. Dangling depends_on references are deliberately not checked
// here; the dependency graph reports them at wave computation.
func (f *File) Normalize(root string) (string, []engine.ServiceSpec, error) {
	project := f.Project
	if project == "" {
		project = filepath.Base(root)
	}

	seen := map[string]bool{}
	specs := make([]engine.ServiceSpec, 0, len(f.Services))
	for _, svc := range f.Services {
		if svc.Name == "" {
			return "", nil, errors.New("service with empty name")
		}
		if seen[svc.Name] {
			return "", nil, errors.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		kind := engine.Kind(svc.Kind)
		if svc.Kind == "" {
			kind = engine.KindNative
		}
		switch kind {
		case engine.KindNative:
			if len(svc.Command) == 0 {
				return "", nil, errors.Errorf("service %q missing command", svc.Name)
			}
		case engine.KindContainer:
			if svc.Image == "" {
				return "", nil, errors.Errorf("service %q missing image", svc.Name)
			}
		default:
			return "", nil, errors.Errorf("service %q has unknown kind %q", svc.Name, svc.Kind)
		}

		hc := engine.Healthcheck{Seconds: engine.DefaultHealthcheckSeconds}
		if svc.Healthcheck != nil {
			hc = engine.Healthcheck{Seconds: svc.Healthcheck.Seconds, URL: svc.Healthcheck.URL}
		}

		specs = append(specs, engine.ServiceSpec{
			Name:        svc.Name,
			Kind:        kind,
			Command:     svc.Command,
			Image:       svc.Image,
			Cwd:         svc.Cwd,
			Env:         svc.Env,
			DependsOn:   svc.DependsOn,
			Healthcheck: hc,
			Profiles:    svc.Profiles,
		})
	}
	return project, specs, nil
}
