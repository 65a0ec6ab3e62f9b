package cache

import (
	"testing"

	"gotest.tools/assert"

	"github.com/edgefleet/otawatch/pkg/ota"
)

func TestLastEmpty(t *testing.T) {
	c := NewLastCache()
	assert.Check(t, c.Last(&ota.Event{State: ota.StateJobConnect}) == nil)
}

func TestLastNil(t *testing.T) {
	c := NewLastCache()
	c.Record(nil)
	assert.Check(t, c.Last(nil) == nil)
}

func TestRecordAndLast(t *testing.T) {
	c := NewLastCache()
	ev := &ota.Event{
		State:  ota.StateJobConnect,
		Server: ota.Server{Host: "update.example.com", Port: 443},
		File:   "/job.json",
	}
	c.Record(ev)

	last := c.Last(&ota.Event{State: ota.StateJobConnect})
	assert.Assert(t, last != nil)
	assert.Check(t, ota.Equivalent(last, ev))
}

func TestLastKeyedByState(t *testing.T) {
	c := NewLastCache()
	c.Record(&ota.Event{State: ota.StateJobConnect})
	assert.Check(t, c.Last(&ota.Event{State: ota.StateDataConnect}) == nil)
}

func TestLastReturnsCopy(t *testing.T) {
	c := NewLastCache()
	c.Record(&ota.Event{State: ota.StateJobConnect, File: "/job.json"})

	lookup := &ota.Event{State: ota.StateJobConnect}
	first := c.Last(lookup)
	assert.Assert(t, first != nil)
	first.File = "/tampered"

	second := c.Last(lookup)
	assert.Assert(t, second != nil)
	assert.Check(t, second.File == "/job.json")
}

func TestRecordOverwrites(t *testing.T) {
	c := NewLastCache()
	c.Record(&ota.Event{State: ota.StateStorageWrite, Percentage: 10})
	c.Record(&ota.Event{State: ota.StateStorageWrite, Percentage: 90})

	last := c.Last(&ota.Event{State: ota.StateStorageWrite})
	assert.Assert(t, last != nil)
	assert.Check(t, last.Percentage == 90)
}
