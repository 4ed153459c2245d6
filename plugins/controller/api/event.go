// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

// Event is processed by the event loop in a single dedicated transaction.
// Events are queued and handled strictly one at a time, which is what allows
// the renderers to stay lock-free.
type Event interface {
	// GetName is a short name of the event type, suitable for metrics labels.
	GetName() string

	// String describes the event instance for logging purposes.
	String() string
}

// EventLoop is the interface for queueing events for processing.
type EventLoop interface {
	// PushEvent adds an event into the queue. It returns an error when the
	// loop is shutting down or the queue is full.
	PushEvent(event Event) error
}

// EventHandler reacts to queued events by updating the desired dataplane
// state inside the event's transaction.
type EventHandler interface {
	// String identifies the handler for logging purposes.
	String() string

	// HandlesEvent tells whether the handler wants Update called for
	// the given event.
	HandlesEvent(event Event) bool

	// Update applies the event into the transaction. The returned string
	// is a brief description of the performed change, empty when the event
	// turned out to be a no-op for this handler.
	Update(event Event, txn Transaction) (changeDescription string, err error)
}
