// Package redis is a pub/sub bus backed by a Redis channel, so
// container.state / container.status / container.error can be observed by
// a process other than the one driving the engines. It wraps an in-process
// pubsub.Bus for local subscribers and relays every publish both ways:
// local publishes go out over Redis PUBLISH, and messages arriving on the
// Redis channel (from this process or another one) are re-published
// locally.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boz/contiman/pubsub"
	"github.com/boz/contiman/types"
	rredis "github.com/garyburd/redigo/redis"
	"github.com/sirupsen/logrus"
)

const channel = "contiman.events"

// envelope is the wire shape published on the Redis channel: a topic tag
// so Unmarshal knows which concrete BusEvent to decode into, plus the
// event's own JSON encoding.
type envelope struct {
	Topic   types.EventTopic `json:"topic"`
	Payload json.RawMessage  `json:"payload"`
}

func encode(ev types.BusEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Topic: ev.GetTopic(), Payload: payload})
}

func decode(buf []byte) (types.BusEvent, error) {
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, err
	}

	switch env.Topic {
	case types.TopicState:
		var ev types.StateEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case types.TopicStatus:
		var ev types.StatusEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case types.TopicError:
		var ev types.ErrorEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("pubsub/redis: unknown topic %q", env.Topic)
	}
}

// New dials addr and returns a pubsub.Service whose Publish/Subscribe are
// backed by the local bus but mirrored over Redis in both directions.
func New(ctx context.Context, addr string) (pubsub.Service, error) {
	local, err := pubsub.NewBus(ctx)
	if err != nil {
		return nil, err
	}

	pubConn, err := rredis.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	subConn, err := rredis.Dial("tcp", addr)
	if err != nil {
		pubConn.Close()
		return nil, err
	}

	b := &bus{
		local:   local,
		pubConn: pubConn,
		subConn: subConn,
		l:       logrus.StandardLogger().WithField("cmp", "pubsub.redis"),
	}

	psc := rredis.PubSubConn{Conn: subConn}
	if err := psc.Subscribe(channel); err != nil {
		pubConn.Close()
		subConn.Close()
		return nil, err
	}

	go b.recv(psc)
	go func() {
		<-ctx.Done()
		psc.Unsubscribe(channel)
	}()

	return b, nil
}

type bus struct {
	local   pubsub.Service
	pubConn rredis.Conn
	subConn rredis.Conn
	l       logrus.FieldLogger
}

// Publish sends ev out over Redis only; it arrives back through recv and
// is forwarded to local subscribers from there, the same path a remote
// process's publish takes. This keeps "how does a local subscriber see an
// event" a single code path regardless of origin.
func (b *bus) Publish(ev types.BusEvent) error {
	buf, err := encode(ev)
	if err != nil {
		return err
	}
	_, err = b.pubConn.Do("PUBLISH", channel, buf)
	return err
}

func (b *bus) Subscribe(filter pubsub.Filter) (pubsub.Subscription, error) {
	return b.local.Subscribe(filter)
}

func (b *bus) Shutdown() error {
	err := b.local.Shutdown()
	b.pubConn.Close()
	b.subConn.Close()
	return err
}

func (b *bus) recv(psc rredis.PubSubConn) {
	for {
		switch v := psc.Receive().(type) {
		case rredis.Message:
			ev, err := decode(v.Data)
			if err != nil {
				b.l.WithError(err).Warn("discarding malformed event")
				continue
			}
			if err := b.local.Publish(ev); err != nil {
				return
			}
		case rredis.Subscription:
			if v.Count == 0 {
				return
			}
		case error:
			b.l.WithError(v).Warn("redis subscription receive error")
			return
		}
	}
}
