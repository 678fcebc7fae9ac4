package interfaces

import "geoattend/pkg/types"

// EventPublisher receives change notifications from the core.
// Publish must not block the caller.
type EventPublisher interface {
	Publish(event *types.Event)
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) Publish(*types.Event) {}

// Publishers fans one event out to several publishers in order
type Publishers []EventPublisher

func (p Publishers) Publish(event *types.Event) {
	for _, pub := range p {
		if pub != nil {
			pub.Publish(event)
		}
	}
}
