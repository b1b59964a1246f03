package pubsub

import "github.com/boz/contiman/types"

// Filter decides whether a subscriber should see a published event.
type Filter func(types.BusEvent) bool

// FilterNone passes every event through.
func FilterNone(_ types.BusEvent) bool {
	return true
}

// FilterTopic passes only events on one of the given topics.
func FilterTopic(topics ...types.EventTopic) Filter {
	return func(ev types.BusEvent) bool {
		for _, t := range topics {
			if ev.GetTopic() == t {
				return true
			}
		}
		return false
	}
}

// FilterContainer passes only events concerning one container id.
func FilterContainer(id types.ID) Filter {
	return func(ev types.BusEvent) bool {
		return ev.GetContainerID() == id
	}
}
