package lifecycle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// composeFileName matches the descriptor name used throughout the
// configuration tree.
const composeFileName = "docker-compose.yml"

// worldTemplateKey is the extension section of the event descriptor that
// holds the world compose template. Extension sections (x-*) are ignored
// by docker stack deploy, so the event file can carry both the event
// stack and the per-world template.
const worldTemplateKey = "x-world"

// strippedServiceOptions are compose options that docker stack deploy
// rejects or ignores; templates may carry them for local compose runs.
var strippedServiceOptions = []string{
	"build",
	"include",
	"env_file",
	"restart",
	"depends_on",
	"links",
}

// renderWorldCompose produces a world's compose descriptor from the
// event's x-world template. Placeholders are expanded first, then the
// result is cleaned for stack deploy.
func renderWorldCompose(template map[string]any, event, user string, port int, configDir string) ([]byte, error) {
	raw, err := yaml.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal world template: %w", err)
	}

	expanded := strings.NewReplacer(
		"${WORLD_EVENT}", event,
		"${WORLD_USER}", user,
		"${WORLD_PORT}", strconv.Itoa(port),
		"${CONFIG_DIR}", configDir,
	).Replace(string(raw))

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rendered world template: %w", err)
	}
	stripComposeOptions(doc)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal world compose: %w", err)
	}
	return out, nil
}

// stripComposeOptions removes service options that are invalid for
// stack deploy, then empty options, then services left empty.
func stripComposeOptions(doc map[string]any) {
	services, ok := doc["services"].(map[string]any)
	if !ok {
		return
	}

	for name, svc := range services {
		options, ok := svc.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range strippedServiceOptions {
			delete(options, key)
		}
		for key, val := range options {
			if isEmptyValue(val) {
				delete(options, key)
			}
		}
		if len(options) == 0 {
			delete(services, name)
		}
	}
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// collectUsedPorts walks every compose descriptor under the events tree
// and returns the host ports they publish, sorted. These become the
// allocator blacklist: a port written into a descriptor is taken even
// if nothing has bound it yet.
func collectUsedPorts(eventsDir string) ([]int, error) {
	seen := make(map[int]struct{})

	err := filepath.WalkDir(eventsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != composeFileName {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		var doc struct {
			Services map[string]struct {
				Ports []any `yaml:"ports"`
			} `yaml:"services"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		for _, svc := range doc.Services {
			for _, entry := range svc.Ports {
				if port, ok := hostPort(entry); ok {
					seen[port] = struct{}{}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// hostPort extracts the published host port from one compose ports
// entry. Entries without a host port (container-only mappings) report
// false, as do forms this parser does not understand.
func hostPort(entry any) (int, bool) {
	switch v := entry.(type) {
	case string:
		// Short syntax: [host-ip:]host:container[/protocol]
		spec, _, _ := strings.Cut(v, "/")
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return 0, false
		}
		port, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			return 0, false
		}
		return port, true
	case int:
		// Container-only mapping, the host port is kernel-assigned.
		return 0, false
	case map[string]any:
		// Long syntax: {target: 80, published: 8080}
		switch published := v["published"].(type) {
		case int:
			return published, true
		case string:
			port, err := strconv.Atoi(published)
			if err != nil {
				return 0, false
			}
			return port, true
		}
		return 0, false
	default:
		return 0, false
	}
}
