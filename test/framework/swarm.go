package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/corral/pkg/types"
)

// SimSwarm is an in-memory stand-in for the docker swarm adapter. It
// tracks one task per compose service and mimics the side effect the
// real cluster has: deploying a stack that carries a wireguard service
// makes the VPN peer config appear next to the compose file, the way
// the VPN container writes it into its volume.
//
// A SimSwarm outlives harness restarts, so tests can stop a daemon and
// start a new one over the same "cluster".
type SimSwarm struct {
	mu     sync.Mutex
	stacks map[string][]types.StackTask

	deployErr   map[string]error
	deployDelay time.Duration
	deploys     int
}

// NewSimSwarm creates an empty simulated cluster.
func NewSimSwarm() *SimSwarm {
	return &SimSwarm{
		stacks:    make(map[string][]types.StackTask),
		deployErr: make(map[string]error),
	}
}

// FailDeploys makes every deploy of the given stack fail until reset
// with a nil error.
func (s *SimSwarm) FailDeploys(stack string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.deployErr, stack)
		return
	}
	s.deployErr[stack] = err
}

// SetDeployDelay stretches every deploy, for observing queue behavior.
func (s *SimSwarm) SetDeployDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployDelay = d
}

// Deploys reports how many deploys have run.
func (s *SimSwarm) Deploys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deploys
}

// SetTaskUp flips one service's task between running and shut down.
func (s *SimSwarm) SetTaskUp(stack, service string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.stacks[stack]
	for i := range tasks {
		if tasks[i].Service != service {
			continue
		}
		tasks[i].Up = up
		if up {
			tasks[i].CurrentState = "Running 1 second ago"
		} else {
			tasks[i].CurrentState = "Shutdown 1 second ago"
		}
	}
}

// StackDeploy parses the compose file, brings up one running task per
// service, and writes the world's peer config when the stack carries a
// wireguard service.
func (s *SimSwarm) StackDeploy(ctx context.Context, composeFile, stack string) error {
	s.mu.Lock()
	s.deploys++
	delay := s.deployDelay
	failErr := s.deployErr[stack]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failErr != nil {
		return fmt.Errorf("deploy %s: %w", stack, failErr)
	}

	services, err := composeServices(composeFile)
	if err != nil {
		return err
	}

	tasks := make([]types.StackTask, 0, len(services))
	hasVPN := false
	for _, svc := range services {
		if svc == "wireguard" {
			hasVPN = true
		}
		tasks = append(tasks, types.StackTask{
			Service:      svc,
			TaskID:       fmt.Sprintf("%s_%s.1", stack, svc),
			DesiredState: "Running",
			CurrentState: "Running 1 second ago",
			Up:           true,
		})
	}

	s.mu.Lock()
	s.stacks[stack] = tasks
	s.mu.Unlock()

	if hasVPN {
		return writePeerConfig(composeFile, stack)
	}
	return nil
}

// StackRemove drops the stack's tasks. Removing an absent stack is
// harmless, like the CLI tolerating a second stack rm.
func (s *SimSwarm) StackRemove(ctx context.Context, stack string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, stack)
	return nil
}

// StackTasks answers the stack's tasks; an unknown stack is empty, not
// an error, matching the real adapter.
func (s *SimSwarm) StackTasks(ctx context.Context, stack string) ([]types.StackTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StackTask(nil), s.stacks[stack]...), nil
}

// WireguardNetworks answers the VPN service's VIP map for a deployed
// stack, already stripped of the stack prefix and the ingress network.
func (s *SimSwarm) WireguardNetworks(ctx context.Context, stack string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.stacks[stack] {
		if task.Service == "wireguard" {
			return map[string]string{"internal": "10.0.9.3"}, nil
		}
	}
	return map[string]string{}, nil
}

// composeServices returns the compose file's service names, sorted.
func composeServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}

	var doc struct {
		Services map[string]any `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}

	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// writePeerConfig drops a plausible wireguard peer config next to the
// compose file, where the real VPN container's volume is mounted.
func writePeerConfig(composeFile, stack string) error {
	parts := strings.Split(stack, "-")
	user := parts[len(parts)-1]

	dir := filepath.Join(filepath.Dir(composeFile), "peer")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	cfg := fmt.Sprintf(
		"[Interface]\nAddress = 10.13.13.2\nPrivateKey = key-%s\n\n[Peer]\nEndpoint = corral.example:51820\n",
		stack,
	)
	return os.WriteFile(filepath.Join(dir, "peer_"+user+".conf"), []byte(cfg), 0644)
}
