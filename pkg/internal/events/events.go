// Package events is a fixture factory for agent events used across the test
// suites.
package events

import "github.com/edgefleet/otawatch/pkg/ota"

const (
	Host = "update.example.com"
	Port = 443
	File = "/job.json"
)

func ret(ev ota.Event, initOpts ...func(*ota.Event)) func(opts ...func(*ota.Event)) *ota.Event {
	for _, opt := range initOpts {
		opt(&ev)
	}

	return func(opts ...func(*ota.Event)) *ota.Event {
		c := ev.Clone()
		for _, opt := range opts {
			opt(c)
		}
		return c
	}
}

func WithHost(host string) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.Server.Host = host
	}
}

func WithPort(port int) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.Server.Port = port
	}
}

func WithFile(file string) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.File = file
	}
}

func WithState(s ota.State) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.State = s
	}
}

func WithReason(r ota.Reason) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.Reason = r
	}
}

func WithProgress(written, total int64, pct int) func(*ota.Event) {
	return func(ev *ota.Event) {
		ev.BytesWritten = written
		ev.TotalSize = total
		ev.Percentage = pct
	}
}

var (
	JobConnect = ret(ota.Event{
		State:  ota.StateJobConnect,
		Reason: ota.ReasonStateChange,
		Server: ota.Server{Host: Host, Port: Port},
		File:   File,
	})

	DataConnect = ret(ota.Event{
		State:  ota.StateDataConnect,
		Reason: ota.ReasonStateChange,
		Server: ota.Server{Host: Host, Port: Port},
	})

	StorageWrite = ret(ota.Event{
		State:  ota.StateStorageWrite,
		Reason: ota.ReasonStateChange,
	}, WithProgress(512, 1024, 50))

	Success = ret(ota.Event{
		State:  ota.StateOTAComplete,
		Reason: ota.ReasonSuccess,
	})

	Failure = ret(ota.Event{
		State:  ota.StateExiting,
		Reason: ota.ReasonFailure,
	})

	StateChange = ret(ota.Event{
		Reason: ota.ReasonStateChange,
	})
)
