package pubsub

import (
	"time"

	"github.com/boz/contiman/types"
	"github.com/boz/go-lifecycle"
	"github.com/sirupsen/logrus"
)

const (
	bufSiz  = 32
	bufWait = 10 * time.Millisecond
)

type Subscription interface {
	Events() <-chan types.BusEvent
	Close()
	Done() <-chan struct{}
}

type subscription struct {
	inch  chan types.BusEvent
	outch chan types.BusEvent

	lc lifecycle.Lifecycle
	l  logrus.FieldLogger
}

func newSubscription(donech chan<- *subscription, filter Filter) *subscription {

	s := &subscription{
		inch:  make(chan types.BusEvent, bufSiz),
		outch: make(chan types.BusEvent, bufSiz),
		lc:    lifecycle.New(),
		l:     logrus.StandardLogger().WithField("cmp", "pubsub.subscription"),
	}

	go s.run(donech, filter)

	return s
}

func (s *subscription) Events() <-chan types.BusEvent {
	return s.outch
}

func (s *subscription) Close() {
	s.lc.ShutdownAsync(nil)
}

func (s *subscription) Done() <-chan struct{} {
	return s.lc.Done()
}

func (s *subscription) publish(ev types.BusEvent) {
	select {
	case s.inch <- ev:
	case <-s.lc.ShuttingDown():
	}
}

func (s *subscription) run(donech chan<- *subscription, filter Filter) {
	defer s.lc.ShutdownCompleted()
	defer func() { donech <- s }()

loop:
	for {
		select {

		case err := <-s.lc.ShutdownRequest():
			s.lc.ShutdownInitiated(err)
			break loop

		case ev := <-s.inch:

			if filter != nil && !filter(ev) {
				continue loop
			}

			select {
			case s.outch <- ev:
			case <-time.After(bufWait):
				s.l.WithField("topic", ev.GetTopic()).Warn("subscriber too slow, dropping event")
			}

		}
	}

}
