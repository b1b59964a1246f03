// Package postgres is a liveness-only interior: it wraps an externally
// started Postgres endpoint, reporting stopped/running from a single
// Ping and running its Status action as a real database/sql query.
// Grounded on this codebase's builtin/postgres ping/exec actions, same
// sql.Open("postgres", url) + lib/pq driver registration, generalized
// from "one action in a lifecycle" to "the whole interior."
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/boz/contiman/interior"
	"github.com/boz/contiman/types"
	"github.com/buger/jsonparser"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func init() {
	interior.Register("postgres", New)
}

type config struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Query    string
}

func parseConfig(raw []byte) config {
	cfg := config{
		Host:     "localhost",
		Port:     "5432",
		Database: "postgres",
		Query:    "SELECT 1",
	}

	if v, err := jsonparser.GetString(raw, "host"); err == nil {
		cfg.Host = v
	}
	if v, err := jsonparser.GetString(raw, "port"); err == nil {
		cfg.Port = v
	}
	if v, err := jsonparser.GetString(raw, "username"); err == nil {
		cfg.Username = v
	}
	if v, err := jsonparser.GetString(raw, "password"); err == nil {
		cfg.Password = v
	}
	if v, err := jsonparser.GetString(raw, "database"); err == nil {
		cfg.Database = v
	}
	if v, err := jsonparser.GetString(raw, "query"); err == nil {
		cfg.Query = v
	}

	return cfg
}

func (c config) dsn() string {
	ui := url.UserPassword(c.Username, c.Password)
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable",
		ui.String(), url.PathEscape(c.Host), url.PathEscape(c.Port), url.PathEscape(c.Database))
}

// New is the interior.Factory for "type": "postgres".
func New(id types.ID, raw []byte, mon interior.Monitor, log logrus.FieldLogger) (interior.Interior, error) {
	return &backend{
		id:  id,
		cfg: parseConfig(raw),
		mon: mon,
		l:   log.WithField("interior", "postgres"),
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

// Load and Start both resolve to a single liveness probe: this interior
// has no separate notion of "loaded but not serving" for an endpoint
// something else already started.
func (b *backend) Load(interior.Opts) { b.probe(types.Stopped) }

func (b *backend) Unload(interior.Opts) {}

func (b *backend) Start(interior.Opts) { b.probe(types.Running) }

func (b *backend) Stop(interior.Opts) {
	b.mon.State(types.Stopped)
}

func (b *backend) probe(onSuccess types.State) {
	db, err := sql.Open("postgres", b.cfg.dsn())
	if err != nil {
		b.mon.Error(err)
		return
	}
	defer db.Close()

	if err := db.PingContext(context.Background()); err != nil {
		b.l.WithError(err).Debug("ping failed")
		b.mon.Error(err)
		return
	}

	b.mon.State(onSuccess)
}

func (b *backend) Status(interior.Opts) {
	db, err := sql.Open("postgres", b.cfg.dsn())
	if err != nil {
		b.mon.Error(err)
		return
	}
	defer db.Close()

	var result int
	err = db.QueryRowContext(context.Background(), b.cfg.Query).Scan(&result)
	if err != nil {
		b.mon.Status(map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	b.mon.Status(map[string]interface{}{"ok": true})
}

func (b *backend) Close() error { return nil }
