// Package process is an interior backed by an os/exec subprocess: start
// runs it, stop cancels it, load and unload only report state, and an
// internal watcher goroutine turns its exit into a state report. Grounded on this codebase's
// lifecycle/action_exec.go for the hand-rolled jsonparser field extraction
// and the stdout/stderr log-forwarding shape, generalized from "one
// configured step" to "one long-running process that is the container."
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/buger/jsonparser"
	"github.com/sirupsen/logrus"
)

func init() {
	interior.Register("process", New)
}

type config struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func parseConfig(raw []byte) (config, error) {
	var cfg config

	path, err := jsonparser.GetString(raw, "path")
	if err != nil {
		return cfg, fmt.Errorf("process: no path given: %w", err)
	}
	cfg.Path = path

	if buf, dt, _, err := jsonparser.Get(raw, "args"); err == nil && dt == jsonparser.Array {
		if err := json.Unmarshal(buf, &cfg.Args); err != nil {
			return cfg, fmt.Errorf("process: bad args: %w", err)
		}
	}

	if buf, dt, _, err := jsonparser.Get(raw, "env"); err == nil && dt == jsonparser.Array {
		if err := json.Unmarshal(buf, &cfg.Env); err != nil {
			return cfg, fmt.Errorf("process: bad env: %w", err)
		}
	}

	if dir, err := jsonparser.GetString(raw, "dir"); err == nil {
		cfg.Dir = dir
	}

	return cfg, nil
}

// New is the interior.Factory for "type": "process".
func New(id types.ID, raw []byte, mon interior.Monitor, log logrus.FieldLogger) (interior.Interior, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	return &backend{
		id:  id,
		cfg: cfg,
		mon: mon,
		l:   log.WithField("interior", "process"),
	}, nil
}

type backend struct {
	id  types.ID
	cfg config
	mon interior.Monitor

	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd

	l logrus.FieldLogger
}

func (b *backend) Implements(a types.Action) bool {
	switch a {
	case types.ActionLoad, types.ActionUnload, types.ActionStart, types.ActionStop:
		return true
	default:
		return false
	}
}

// Load does not start the subprocess; Start does. A process backend has no
// separate supervisor to create, so Load reports stopped immediately.
func (b *backend) Load(interior.Opts) {
	b.mon.State(types.Stopped)
}

// Unload is the converse of Load: nothing to release since Start/Stop own
// the actual process.
func (b *backend) Unload(interior.Opts) {
	b.mon.State(types.Offline)
}

func (b *backend) Start(interior.Opts) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, b.cfg.Path, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = append([]string{fmt.Sprintf("CONTIMAN_ID=%s", b.id)}, b.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		b.mon.Error(err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		b.mon.Error(err)
		return
	}

	if err := cmd.Start(); err != nil {
		cancel()
		b.mon.Error(err)
		return
	}

	b.mu.Lock()
	b.cancel = cancel
	b.cmd = cmd
	b.mu.Unlock()

	go b.forward(stdout, b.l.Debugln)
	go b.forward(stderr, b.l.Warnln)
	go b.wait(cmd)

	b.mon.State(types.Running)
}

func (b *backend) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	b.mu.Lock()
	b.cmd = nil
	b.mu.Unlock()

	if err != nil {
		b.l.WithError(err).Debug("process exited")
	}
	b.mon.State(types.Stopped)
}

func (b *backend) Stop(opts interior.Opts) {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel == nil {
		b.mon.State(types.Stopped)
		return
	}

	cancel()
	// wait() observes the exit and reports Stopped; Stop itself does not
	// block, per the non-blocking interior contract.
}

func (b *backend) Status(interior.Opts) {
	b.mu.Lock()
	running := b.cmd != nil
	b.mu.Unlock()
	b.mon.Status(map[string]interface{}{"running": running})
}

func (b *backend) Close() error {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (b *backend) forward(r io.Reader, logfn func(args ...interface{})) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logfn(scanner.Text())
	}
}
