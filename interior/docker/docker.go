// Package docker is the Docker-backed interior: load creates the
// container, start/stop start and stop it, unload removes it, and a
// label-filtered event-stream watcher turns Docker's own die/start/stop
// events into state reports. Grounded on this codebase's node.Node
// (client construction), node.EventPublisher (label-filtered
// client.Events watch loop), and container.container.doCreate (the
// ContainerCreate/ContainerStart/ContainerInspect call sequence),
// generalized from a pool-checkout sidecar to the container itself.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	dtypes "github.com/docker/docker/api/types"
	dcontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

func init() {
	interior.Register("docker", New)
}

const labelContainerID = "contiman.container-id"

type config struct {
	Image       string
	Cmd         []string
	Env         []string
	Ports       []string
	MemoryBytes int64
}

func parseConfig(raw []byte) (config, error) {
	var doc struct {
		Image  string   `json:"image"`
		Cmd    []string `json:"cmd"`
		Env    []string `json:"env"`
		Ports  []string `json:"ports"`
		Memory string   `json:"memory"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return config{}, err
	}

	if doc.Image == "" {
		return config{}, fmt.Errorf("docker: no image given")
	}

	cfg := config{Image: doc.Image, Cmd: doc.Cmd, Env: doc.Env, Ports: doc.Ports}

	if doc.Memory != "" {
		bytes, err := units.RAMInBytes(doc.Memory)
		if err != nil {
			return config{}, fmt.Errorf("docker: bad memory limit: %w", err)
		}
		cfg.MemoryBytes = bytes
	}

	return cfg, nil
}

// New is the interior.Factory for "type": "docker".
func New(id types.ID, raw []byte, mon interior.Monitor, log logrus.FieldLogger) (interior.Interior, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, err
	}

	b := &backend{
		id:  id,
		cfg: cfg,
		cli: cli,
		mon: mon,
		l:   log.WithField("interior", "docker"),
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	b.watchCancel = cancel
	go b.watch(watchCtx)

	return b, nil
}

type backend struct {
	id  types.ID
	cfg config
	cli *client.Client
	mon interior.Monitor
	l   logrus.FieldLogger

	mu          sync.Mutex
	containerID string

	watchCancel context.CancelFunc
}

func (b *backend) Implements(a types.Action) bool {
	switch a {
	case types.ActionLoad, types.ActionUnload, types.ActionStart, types.ActionStop, types.ActionStatus:
		return true
	default:
		return false
	}
}

func (b *backend) Load(interior.Opts) {
	ctx := context.Background()

	cconfig := &dcontainer.Config{
		Image: b.cfg.Image,
		Cmd:   b.cfg.Cmd,
		Env:   b.cfg.Env,
		Labels: map[string]string{
			labelContainerID: string(b.id),
		},
	}

	exposed, bindings, err := portSpecs(b.cfg.Ports)
	if err != nil {
		b.mon.Error(err)
		return
	}
	cconfig.ExposedPorts = exposed

	hconfig := &dcontainer.HostConfig{
		PortBindings: bindings,
	}
	if b.cfg.MemoryBytes > 0 {
		hconfig.Resources = dcontainer.Resources{Memory: b.cfg.MemoryBytes}
	}

	// platform is left nil: this interior creates containers for the
	// daemon's native platform only, but types the argument explicitly
	// rather than passing an untyped nil through the client call.
	var platform *specs.Platform

	created, err := b.cli.ContainerCreate(ctx, cconfig, hconfig, &network.NetworkingConfig{}, platform, "")
	if err != nil {
		b.mon.Error(err)
		return
	}

	b.mu.Lock()
	b.containerID = created.ID
	b.mu.Unlock()

	info, err := b.cli.ContainerInspect(ctx, created.ID)
	if err != nil {
		b.mon.Error(err)
		return
	}
	if info.Image != "" {
		if d, err := digest.Parse(info.Image); err == nil {
			b.l.WithField("digest", d.String()).Debug("image resolved")
		}
	}

	b.mon.State(types.Stopped)
}

func (b *backend) Unload(interior.Opts) {
	cid := b.currentID()
	if cid == "" {
		b.mon.State(types.Offline)
		return
	}

	if err := b.cli.ContainerRemove(context.Background(), cid, dtypes.ContainerRemoveOptions{Force: true}); err != nil {
		b.mon.Error(err)
		return
	}

	b.mu.Lock()
	b.containerID = ""
	b.mu.Unlock()

	b.mon.State(types.Offline)
}

func (b *backend) Start(interior.Opts) {
	cid := b.currentID()
	if cid == "" {
		b.mon.Error(fmt.Errorf("docker: start before load"))
		return
	}

	if err := b.cli.ContainerStart(context.Background(), cid, dtypes.ContainerStartOptions{}); err != nil {
		b.mon.Error(err)
		return
	}
	// the watch goroutine reports Running once Docker emits the "start" event.
}

func (b *backend) Stop(opts interior.Opts) {
	cid := b.currentID()
	if cid == "" {
		b.mon.Error(fmt.Errorf("docker: stop before load"))
		return
	}

	if opts.Force {
		signal := "KILL"
		if s, ok := opts.Extra["signal"].(string); ok && s != "" {
			signal = s
		}
		if err := b.cli.ContainerKill(context.Background(), cid, signal); err != nil {
			b.mon.Error(err)
		}
		return
	}

	if err := b.cli.ContainerStop(context.Background(), cid, dcontainer.StopOptions{}); err != nil {
		b.mon.Error(err)
		return
	}
	// the watch goroutine reports Stopped once Docker emits the "die" event.
}

func (b *backend) Status(interior.Opts) {
	cid := b.currentID()
	if cid == "" {
		b.mon.Status(map[string]interface{}{"exists": false})
		return
	}

	info, err := b.cli.ContainerInspect(context.Background(), cid)
	if err != nil {
		b.mon.Status(map[string]interface{}{"exists": false, "error": err.Error()})
		return
	}

	b.mon.Status(map[string]interface{}{
		"exists": true,
		"status": info.State.Status,
		"health": healthOf(info),
	})
}

func healthOf(info dtypes.ContainerJSON) string {
	if info.State == nil || info.State.Health == nil {
		return ""
	}
	return info.State.Health.Status
}

func (b *backend) Close() error {
	b.watchCancel()
	return b.cli.Close()
}

func (b *backend) currentID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.containerID
}

// watch turns Docker's own die/start events for this container into state
// reports, the same label-filtered client.Events loop as this codebase's
// node.EventPublisher, narrowed from pool-wide to one container id.
func (b *backend) watch(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("type", "container")
	f.Add("label", fmt.Sprintf("%s=%s", labelContainerID, b.id))

	msgch, errch := b.cli.Events(ctx, dtypes.EventsOptions{Filters: f})

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgch:
			if !ok {
				return
			}
			b.handleEvent(msg)

		case err, ok := <-errch:
			if !ok {
				return
			}
			if err != nil {
				b.l.WithError(err).Debug("docker event stream error")
			}
			return
		}
	}
}

func (b *backend) handleEvent(msg events.Message) {
	switch msg.Action {
	case "start":
		b.mon.State(types.Running)
	case "die", "stop", "kill":
		b.mon.State(types.Stopped)
	case "destroy":
		b.mon.State(types.Offline)
	}
}

func portSpecs(specs []string) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}

	for _, s := range specs {
		port, err := nat.NewPort("tcp", s)
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: s}}
	}

	return exposed, bindings, nil
}
