package swarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
)

// runFunc executes the docker CLI and returns stdout and stderr separately.
// Tests swap this out to avoid shelling out.
type runFunc func(ctx context.Context, dir string, args ...string) (stdout, stderr []byte, err error)

func runDocker(ctx context.Context, dir string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Client shells out to the docker CLI for swarm stack operations
type Client struct {
	run    runFunc
	logger zerolog.Logger
}

// NewClient creates a docker CLI client
func NewClient() *Client {
	return &Client{
		run:    runDocker,
		logger: log.WithComponent("swarm"),
	}
}

// stackPSLine is one line of docker stack ps --format=json output
type stackPSLine struct {
	ID           string `json:"ID"`
	Name         string `json:"Name"`
	DesiredState string `json:"DesiredState"`
	CurrentState string `json:"CurrentState"`
	Error        string `json:"Error"`
}

// serviceInspect is the subset of docker service inspect output we read
type serviceInspect struct {
	ID       string `json:"ID"`
	Endpoint struct {
		VirtualIPs []struct {
			NetworkID string `json:"NetworkID"`
			Addr      string `json:"Addr"`
		} `json:"VirtualIPs"`
	} `json:"Endpoint"`
}

// networkInspect is the subset of docker network inspect output we read
type networkInspect struct {
	Name string `json:"Name"`
}

// StackTasks returns the tasks of a stack whose desired state is running.
// A stack that does not exist returns an empty slice, not an error.
func (c *Client) StackTasks(ctx context.Context, stack string) ([]types.StackTask, error) {
	args := []string{"stack", "ps", "--format=json", "--filter", "desired-state=running", stack}
	c.logger.Debug().Str("stack", stack).Msg("docker stack ps")

	stdout, stderr, err := c.run(ctx, "", args...)
	if err != nil {
		if strings.Contains(strings.ToLower(string(stderr)), "nothing found in stack") {
			return nil, nil
		}
		return nil, fmt.Errorf("docker stack ps failed: %w (stderr: %s)", err, stderr)
	}

	var tasks []types.StackTask
	for _, line := range splitLines(stdout) {
		var ps stackPSLine
		if err := json.Unmarshal(line, &ps); err != nil {
			return nil, fmt.Errorf("failed to parse stack ps line %q: %w", line, err)
		}
		tasks = append(tasks, types.StackTask{
			Service:      shortTaskName(stack, ps.Name),
			TaskID:       ps.ID,
			DesiredState: ps.DesiredState,
			CurrentState: ps.CurrentState,
			Error:        ps.Error,
			Up: ps.Error == "" &&
				ps.DesiredState == "Running" &&
				strings.HasPrefix(ps.CurrentState, "Running"),
		})
	}
	return tasks, nil
}

// StackDeploy deploys a compose file as a stack and waits for the
// services to converge. The command runs from the compose file's
// directory so relative bind mounts resolve.
func (c *Client) StackDeploy(ctx context.Context, composeFile, stack string) error {
	dir := filepath.Dir(composeFile)
	file := filepath.Base(composeFile)
	c.logger.Info().Str("stack", stack).Str("file", composeFile).Msg("docker stack deploy")

	_, stderr, err := c.run(ctx, dir, "stack", "deploy", "-c", file, "--detach=false", stack)
	if err != nil {
		return fmt.Errorf("docker stack deploy failed: %w (stderr: %s)", err, stderr)
	}
	return nil
}

// StackRemove removes a stack. Removing a stack that does not exist is
// not an error.
func (c *Client) StackRemove(ctx context.Context, stack string) error {
	c.logger.Info().Str("stack", stack).Msg("docker stack rm")

	_, stderr, err := c.run(ctx, "", "stack", "rm", stack)
	if err != nil {
		if strings.Contains(strings.ToLower(string(stderr)), "nothing found in stack") {
			return nil
		}
		return fmt.Errorf("docker stack rm failed: %w (stderr: %s)", err, stderr)
	}
	return nil
}

// ListServices returns swarm services whose name matches the filter
func (c *Client) ListServices(ctx context.Context, name string) ([]types.ServiceSummary, error) {
	args := []string{"service", "ls", "--filter", "name=" + name, "--format=json"}

	stdout, stderr, err := c.run(ctx, "", args...)
	if err != nil {
		return nil, fmt.Errorf("docker service ls failed: %w (stderr: %s)", err, stderr)
	}

	var services []types.ServiceSummary
	for _, line := range splitLines(stdout) {
		var svc types.ServiceSummary
		if err := json.Unmarshal(line, &svc); err != nil {
			return nil, fmt.Errorf("failed to parse service ls line %q: %w", line, err)
		}
		services = append(services, svc)
	}
	return services, nil
}

// WireguardNetworks returns the wireguard service's virtual IP per network
// for one stack. Network names lose their "<stack>_" prefix; the swarm
// ingress network is excluded. A stack without exactly one wireguard
// service returns nil.
func (c *Client) WireguardNetworks(ctx context.Context, stack string) (map[string]string, error) {
	services, err := c.ListServices(ctx, stack+"_wireguard")
	if err != nil {
		return nil, err
	}
	if len(services) != 1 {
		return nil, nil
	}
	return c.serviceVIPs(ctx, services[0].ID, stack)
}

func (c *Client) serviceVIPs(ctx context.Context, serviceID, stack string) (map[string]string, error) {
	svc, err := c.inspectService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	networks := make(map[string]string)
	for _, vip := range svc.Endpoint.VirtualIPs {
		if vip.NetworkID == "" || vip.Addr == "" {
			continue
		}
		fullName, err := c.inspectNetworkName(ctx, vip.NetworkID)
		if err != nil {
			return nil, err
		}
		if fullName == "ingress" {
			continue
		}
		name := strings.TrimPrefix(fullName, stack+"_")
		ip, _, found := strings.Cut(vip.Addr, "/")
		if !found {
			ip = vip.Addr
		}
		networks[name] = ip
	}
	return networks, nil
}

func (c *Client) inspectService(ctx context.Context, id string) (*serviceInspect, error) {
	raw, err := c.inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	var svc serviceInspect
	if err := json.Unmarshal(raw, &svc); err != nil {
		return nil, fmt.Errorf("failed to parse service inspect for %s: %w", id, err)
	}
	return &svc, nil
}

func (c *Client) inspectNetworkName(ctx context.Context, id string) (string, error) {
	raw, err := c.inspect(ctx, id)
	if err != nil {
		return "", err
	}
	var net networkInspect
	if err := json.Unmarshal(raw, &net); err != nil {
		return "", fmt.Errorf("failed to parse network inspect for %s: %w", id, err)
	}
	return net.Name, nil
}

// inspect returns the first element of docker inspect --format=json output
func (c *Client) inspect(ctx context.Context, id string) (json.RawMessage, error) {
	stdout, stderr, err := c.run(ctx, "", "inspect", "--format=json", id)
	if err != nil {
		return nil, fmt.Errorf("docker inspect %s failed: %w (stderr: %s)", id, err, stderr)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(firstLine(stdout), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse inspect output for %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("inspect %s returned no entries", id)
	}
	return entries[0], nil
}

// shortTaskName strips the stack prefix and the task slot suffix:
// "crl-demo-alice_wireguard.1" becomes "wireguard"
func shortTaskName(stack, name string) string {
	name = strings.TrimPrefix(name, stack+"_")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

func splitLines(out []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func firstLine(out []byte) []byte {
	lines := splitLines(out)
	if len(lines) == 0 {
		return nil
	}
	return lines[0]
}
