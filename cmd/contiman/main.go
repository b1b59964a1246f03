// Command contiman is the thin CLI shell over the service dispatch client,
// plus a monitor subcommand that talks to the pub/sub bus directly.
// Grounded on this codebase's cmd/ephemerald/main.go for flag/log wiring;
// the subcommand structure itself has no direct teacher precedent, since
// the teacher shipped one binary with no verb dispatch, so it follows
// kingpin's own Command() idiom.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/boz/contiman/config"
	lclient "github.com/boz/contiman/net/client"
	"github.com/boz/contiman/pubsub"
	rpubsub "github.com/boz/contiman/pubsub/redis"
	"github.com/boz/contiman/types"
	"github.com/boz/contiman/ui"
	"github.com/boz/contiman/version"
	"github.com/sirupsen/logrus"

	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("contiman", "Container lifecycle client.")

	flagHost = app.Flag("host", "contimand address").
			Short('H').
			Default("http://" + "localhost:6000").
			String()

	flagRedisAddress = app.Flag("redis-address", "Redis address the bus was started with. Unset: monitor can't follow events.").
				Short('r').
				String()

	createCmd    = app.Command("create", "create a container")
	createID     = createCmd.Arg("id", "container id").Required().String()
	createConfig = createCmd.Arg("config", "container config file").Required().ExistingFile()

	destroyCmd = app.Command("destroy", "destroy a container")
	destroyID  = destroyCmd.Arg("id", "container id").Required().String()

	startCmd = app.Command("start", "start a container")
	startID  = startCmd.Arg("id", "container id").Required().String()

	stopCmd   = app.Command("stop", "stop a container")
	stopID    = stopCmd.Arg("id", "container id").Required().String()
	stopForce = stopCmd.Flag("force", "kill rather than gracefully stop").Bool()

	listCmd = app.Command("list", "list container ids")

	infoCmd = app.Command("info", "show a container's snapshot")
	infoID  = infoCmd.Arg("id", "container id").Required().String()

	monitorCmd = app.Command("monitor", "follow container.* events")
	monitorTUI = monitorCmd.Flag("tui", "render a live table instead of a log").Bool()
)

func main() {
	app.Version(version.String())
	app.HelpFlag.Short('h')
	app.DefaultEnvars()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	c, err := lclient.New(lclient.WithHost(*flagHost))
	app.FatalIfError(err, "client")

	ctx := context.Background()

	switch cmd {
	case createCmd.FullCommand():
		app.FatalIfError(runCreate(ctx, c), "create")
	case destroyCmd.FullCommand():
		app.FatalIfError(c.Destroy(ctx, types.ID(*destroyID)), "destroy")
	case startCmd.FullCommand():
		app.FatalIfError(c.Start(ctx, types.ID(*startID)), "start")
	case stopCmd.FullCommand():
		app.FatalIfError(c.Stop(ctx, types.ID(*stopID), *stopForce), "stop")
	case listCmd.FullCommand():
		app.FatalIfError(runList(ctx, c), "list")
	case infoCmd.FullCommand():
		app.FatalIfError(runInfo(ctx, c), "info")
	case monitorCmd.FullCommand():
		app.FatalIfError(runMonitor(ctx), "monitor")
	}
}

func runCreate(ctx context.Context, c lclient.Interface) error {
	raw, err := config.ReadPath(*createConfig)
	if err != nil {
		return err
	}
	return c.Create(ctx, types.ID(*createID), raw)
}

func runList(ctx context.Context, c lclient.Interface) error {
	ids, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runInfo(ctx context.Context, c lclient.Interface) error {
	snap, err := c.Query(ctx, types.ID(*infoID))
	if err != nil {
		return err
	}
	buf, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(buf))
	return nil
}

func runMonitor(ctx context.Context) error {
	if *flagRedisAddress == "" {
		return fmt.Errorf("monitor requires --redis-address: it subscribes directly, not through contimand")
	}

	bus, err := rpubsub.New(ctx, *flagRedisAddress)
	if err != nil {
		return err
	}
	defer bus.Shutdown()

	sub, err := bus.Subscribe(pubsub.FilterNone)
	if err != nil {
		return err
	}
	defer sub.Close()

	if *monitorTUI {
		return ui.Monitor(sub)
	}
	return logEvents(sub)
}

func logEvents(sub pubsub.Subscription) error {
	l := logrus.StandardLogger()
	for {
		select {
		case <-sub.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			l.WithFields(logrus.Fields{
				"topic": ev.GetTopic(),
				"id":    ev.GetContainerID(),
				"time":  time.Now().Format(time.RFC3339),
			}).Info(ev)
		}
	}
}
