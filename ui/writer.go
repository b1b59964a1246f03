package ui

import (
	"fmt"
	"time"

	"github.com/boz/contiman/pubsub"
	"github.com/boz/contiman/types"
	throttle "github.com/boz/go-throttle"
	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

const drawMinPeriod = time.Second / 15

// Monitor drives the tcell application off bus, redrawing at most at
// drawMinPeriod, until either the bus subscription ends or the user presses
// q. Grounded on this codebase's tuiWriter: same upsert/delete-map
// coalescing feeding a single throttled draw, narrowed from two tables
// (pools and containers) to the one this domain has.
func Monitor(sub pubsub.Subscription) error {
	shutdownch := make(chan bool)
	app, window := createTuiApp(shutdownch)

	w := &writer{
		update:     make(map[string]tuiTR),
		drawsig:    make(chan bool),
		donech:     make(chan struct{}),
		shutdownch: shutdownch,
		app:        app,
		window:     window,
	}

	w.throttle = throttle.ThrottleFunc(drawMinPeriod, true, func() {
		select {
		case <-w.donech:
		case w.drawsig <- true:
		}
	})

	go app.Run()
	go w.run(sub)

	<-w.donech
	return nil
}

type writer struct {
	update map[string]tuiTR

	drawsig    chan bool
	donech     chan struct{}
	shutdownch chan bool

	throttle throttle.ThrottleDriver

	app    *views.Application
	window *tuiWindow
}

func (w *writer) run(sub pubsub.Subscription) {
	defer close(w.donech)
	defer w.app.Quit()
	defer w.throttle.Stop()

	for {
		select {
		case <-w.shutdownch:
			return
		case <-sub.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			w.handleEvent(ev)
			w.throttle.Trigger()
		case <-w.drawsig:
			w.draw()
		}
	}
}

func (w *writer) handleEvent(ev types.BusEvent) {
	row := w.update[string(ev.GetContainerID())]
	cr, ok := row.(containerRow)
	if !ok {
		cr = containerRow{containerID: ev.GetContainerID()}
	}

	switch e := ev.(type) {
	case types.StateEvent:
		cr.state = e.State
		cr.lastState = e.LastState
	case types.StatusEvent:
		cr.status = fmt.Sprint(e.Status)
	case types.ErrorEvent:
		cr.status = "error: " + e.Message
	}

	w.update[string(ev.GetContainerID())] = cr
}

func (w *writer) draw() {
	update := w.update
	w.update = make(map[string]tuiTR)

	w.app.PostFunc(func() {
		w.window.updateContainers(update, nil)
		w.window.Resize()
		w.window.Draw()
	})
}

type containerRow struct {
	containerID types.ID
	state       types.State
	lastState   types.State
	status      string
}

func (cr containerRow) id() string { return string(cr.containerID) }

func (cr containerRow) cols() []tuiTD {
	style := tcell.StyleDefault
	statestyle := tcell.StyleDefault

	switch cr.state {
	case types.Running:
		statestyle = statestyle.Foreground(tcell.ColorGreen)
	case types.Offline:
		statestyle = statestyle.Foreground(tcell.ColorRed)
	case types.Stopped:
		statestyle = statestyle.Foreground(tcell.ColorYellow)
	default:
		statestyle = statestyle.Foreground(tcell.ColorTeal)
	}

	return []tuiTD{
		{string(cr.containerID), style},
		{string(cr.state), statestyle},
		{string(cr.lastState), style},
		{cr.status, style},
	}
}
