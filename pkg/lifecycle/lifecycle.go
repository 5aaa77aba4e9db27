package lifecycle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

// Swarm is the slice of the orchestrator adapter the lifecycle commands
// need.
type Swarm interface {
	StackDeploy(ctx context.Context, composeFile, stack string) error
	StackRemove(ctx context.Context, stack string) error
}

// PortSource hands out free host ports. Implemented by pkg/ports.Client.
type PortSource interface {
	FreePort(ctx context.Context, blacklist []int) (int, error)
}

// Ops implements the blocking world commands the state machine runs
// through the executor: create, start, stop and delete. Each command is
// synchronous and does real work; serialization (one create at a time,
// one stop at a time) is the caller's job.
type Ops struct {
	store  *store.Store
	swarm  Swarm
	ports  PortSource
	logger zerolog.Logger

	// How long create waits for the VPN container to write the peer
	// config, and how often it looks.
	peerWait time.Duration
	peerPoll time.Duration
}

// New creates the lifecycle commands over a config store, the swarm
// adapter and a port allocator client.
func New(st *store.Store, sw Swarm, ports PortSource) *Ops {
	return &Ops{
		store:    st,
		swarm:    sw,
		ports:    ports,
		logger:   log.WithComponent("lifecycle"),
		peerWait: 2 * time.Minute,
		peerPoll: 500 * time.Millisecond,
	}
}

// Create builds a world from its event's template and deploys it:
// allocate the world's host port against everything already published
// on disk, render the x-world template, write the world compose file,
// deploy the stack, and wait for the VPN peer config to appear. A
// failure anywhere may leave files behind; the state machine reacts to
// the error with a cleanup delete.
func (o *Ops) Create(ctx context.Context, key types.WorldKey) error {
	o.logger.Info().Str("event", key.Event).Str("user", key.User).Msg("Creating world")

	template, err := o.worldTemplate(key.Event)
	if err != nil {
		return err
	}

	// The event stack carries shared services (scoreboard, routing), so
	// make sure it is up before its first world. Deploying a running
	// stack is a no-op for swarm.
	if err := o.swarm.StackDeploy(ctx, o.store.EventFile(key.Event), types.EventStackName(key.Event)); err != nil {
		return fmt.Errorf("failed to deploy event stack: %w", err)
	}

	used, err := collectUsedPorts(o.store.EventsDir())
	if err != nil {
		return fmt.Errorf("failed to collect used ports: %w", err)
	}
	port, err := o.ports.FreePort(ctx, used)
	if err != nil {
		return fmt.Errorf("failed to allocate world port: %w", err)
	}
	o.logger.Debug().
		Str("event", key.Event).
		Str("user", key.User).
		Int("port", port).
		Ints("blacklist", used).
		Msg("World port allocated")

	data, err := renderWorldCompose(template, key.Event, key.User, port, o.store.Root())
	if err != nil {
		return err
	}
	if err := o.store.WriteWorldFile(key.Event, key.User, data); err != nil {
		return err
	}

	if err := o.swarm.StackDeploy(ctx, o.store.WorldFile(key.Event, key.User), key.StackName()); err != nil {
		return fmt.Errorf("failed to deploy world stack: %w", err)
	}

	return o.waitForPeerConfig(ctx, key)
}

// Start deploys a previously created world's stack. A world whose
// compose file is gone cannot be started.
func (o *Ops) Start(ctx context.Context, key types.WorldKey) error {
	file := o.store.WorldFile(key.Event, key.User)
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("world %s has no compose file: %w", key, err)
	}

	o.logger.Info().Str("event", key.Event).Str("user", key.User).Msg("Starting world")
	return o.swarm.StackDeploy(ctx, file, key.StackName())
}

// Stop removes a world's stack. The world's files stay on disk, so the
// world remains created and can be started again.
func (o *Ops) Stop(ctx context.Context, key types.WorldKey) error {
	o.logger.Info().Str("event", key.Event).Str("user", key.User).Msg("Stopping world")
	return o.swarm.StackRemove(ctx, key.StackName())
}

// Delete tears a world down completely: remove the stack, then the
// world directory. Used for explicit teardown and to clean the debris
// of a failed create, so a missing stack is tolerated.
func (o *Ops) Delete(ctx context.Context, key types.WorldKey) error {
	o.logger.Info().Str("event", key.Event).Str("user", key.User).Msg("Deleting world")

	if err := o.swarm.StackRemove(ctx, key.StackName()); err != nil {
		o.logger.Error().Err(err).
			Str("event", key.Event).
			Str("user", key.User).
			Msg("Stack removal failed, removing files anyway")
	}
	return o.store.RemoveWorldDir(key.Event, key.User)
}

// worldTemplate reads the event descriptor and extracts the x-world
// section.
func (o *Ops) worldTemplate(event string) (map[string]any, error) {
	data, err := os.ReadFile(o.store.EventFile(event))
	if err != nil {
		return nil, fmt.Errorf("event %s has no descriptor: %w", event, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse event descriptor for %s: %w", event, err)
	}

	template, ok := doc[worldTemplateKey].(map[string]any)
	if !ok || len(template) == 0 {
		return nil, fmt.Errorf("event %s descriptor has no %s section", event, worldTemplateKey)
	}
	return template, nil
}

// waitForPeerConfig polls until the world's VPN container has written
// the peer config, which is what marks the world as created.
func (o *Ops) waitForPeerConfig(ctx context.Context, key types.WorldKey) error {
	deadline := time.Now().Add(o.peerWait)
	ticker := time.NewTicker(o.peerPoll)
	defer ticker.Stop()

	for {
		if o.store.WorldExists(key.Event, key.User) {
			o.logger.Info().Str("event", key.Event).Str("user", key.User).Msg("Peer config present, world created")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("world %s: peer config did not appear within %s", key, o.peerWait)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("world %s: gave up waiting for peer config: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
