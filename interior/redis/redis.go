// Package redis is a liveness-only interior over an externally started
// Redis endpoint, grounded on this codebase's builtin/redis exec action:
// same garyburd/redigo Dial with connect/read/write timeouts, generalized
// from "one PING action" to "the whole interior."
package redis

import (
	"net"
	"time"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/buger/jsonparser"
	rredis "github.com/garyburd/redigo/redis"
	"github.com/sirupsen/logrus"
)

func init() {
	interior.Register("redis", New)
}

const defaultTimeout = time.Second

type config struct {
	Host    string
	Port    string
	Timeout time.Duration
}

func parseConfig(raw []byte) config {
	cfg := config{Host: "localhost", Port: "6379", Timeout: defaultTimeout}

	if v, err := jsonparser.GetString(raw, "host"); err == nil {
		cfg.Host = v
	}
	if v, err := jsonparser.GetString(raw, "port"); err == nil {
		cfg.Port = v
	}
	if v, err := jsonparser.GetString(raw, "timeout"); err == nil {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}

	return cfg
}

// New is the interior.Factory for "type": "redis".
func New(id types.ID, raw []byte, mon interior.Monitor, log logrus.FieldLogger) (interior.Interior, error) {
	return &backend{
		id:  id,
		cfg: parseConfig(raw),
		mon: mon,
		l:   log.WithField("interior", "redis"),
	}, nil
}

type backend struct {
	id  types.ID
	cfg config
	mon interior.Monitor
	l   logrus.FieldLogger
}

func (b *backend) Implements(a types.Action) bool {
	switch a {
	case types.ActionLoad, types.ActionStart, types.ActionStop, types.ActionStatus:
		return true
	default:
		return false
	}
}

func (b *backend) Load(interior.Opts) { b.probe(types.Stopped) }

func (b *backend) Unload(interior.Opts) {}

func (b *backend) Start(interior.Opts) { b.probe(types.Running) }

func (b *backend) Stop(interior.Opts) {
	b.mon.State(types.Stopped)
}

func (b *backend) dial() (rredis.Conn, error) {
	address := net.JoinHostPort(b.cfg.Host, b.cfg.Port)
	return rredis.Dial("tcp", address,
		rredis.DialConnectTimeout(b.cfg.Timeout),
		rredis.DialReadTimeout(b.cfg.Timeout),
		rredis.DialWriteTimeout(b.cfg.Timeout))
}

func (b *backend) probe(onSuccess types.State) {
	conn, err := b.dial()
	if err != nil {
		b.l.WithError(err).Debug("dial failed")
		b.mon.Error(err)
		return
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		b.mon.Error(err)
		return
	}

	b.mon.State(onSuccess)
}

func (b *backend) Status(interior.Opts) {
	conn, err := b.dial()
	if err != nil {
		b.mon.Status(map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	defer conn.Close()

	reply, err := rredis.String(conn.Do("PING"))
	if err != nil {
		b.mon.Status(map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	b.mon.Status(map[string]interface{}{"ok": true, "reply": reply})
}

func (b *backend) Close() error { return nil }
