package ota

// Event is the transient record delivered to observers on every state
// transition or terminal outcome. Events are owned by the agent; consumers
// read them during delivery and must not retain them across deliveries.
//
// Which fields are meaningful depends on State: connect states carry Server
// and File, job-parse and the download states carry JSONDoc, and
// storage-write carries the byte counters and Percentage.
type Event struct {
	State  State
	Reason Reason

	Server  Server
	File    string
	JSONDoc string

	BytesWritten int64
	TotalSize    int64
	Percentage   int
}

// Clone returns a copy of the Event safe to retain past its delivery.
func (e Event) Clone() *Event {
	return &e
}

// Equivalent compares delivered state to determine whether two events would
// report the same thing.
func Equivalent(a, b *Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Delivery pairs an Event with the means to answer it. The agent blocks its
// state machine on the response, preserving the veto semantics of a direct
// callback while keeping the observer on its own goroutine.
type Delivery struct {
	Event *Event

	response chan<- Result
}

// Respond answers the delivery. Each delivery accepts exactly one response;
// further calls are ignored.
func (d *Delivery) Respond(r Result) {
	if d.response == nil {
		return
	}
	d.response <- r
	d.response = nil
}

// NewDelivery builds a Delivery for ev and returns the channel its response
// will arrive on. Intended for agent implementations.
func NewDelivery(ev *Event) (Delivery, <-chan Result) {
	resp := make(chan Result, 1)
	return Delivery{Event: ev, response: resp}, resp
}
