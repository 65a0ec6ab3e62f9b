// Package simulate provides a scripted stand-in for the vendor update agent.
// It walks the canonical state progression and drives the storage table with
// synthetic image bytes, but speaks no protocol and verifies nothing beyond
// byte counts. It exists for dry runs and tests.
package simulate

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/ota"
	"github.com/edgefleet/otawatch/pkg/storage"
)

const (
	defaultImageSize = int64(4096)
	defaultChunkSize = int64(1024)
)

// Agent is a scripted ota.Agent.
type Agent struct {
	log logging.Logger

	// ImageSize and ChunkSize shape the synthetic download.
	ImageSize int64
	ChunkSize int64
}

var _ ota.Agent = (*Agent)(nil)

func init() {
	ota.Register("simulate", func(log logging.Logger) (ota.Agent, error) {
		return New(log), nil
	})
}

// New returns a scripted agent with the default image shape.
func New(log logging.Logger) *Agent {
	return &Agent{log: log, ImageSize: defaultImageSize, ChunkSize: defaultChunkSize}
}

// Start launches the scripted session. The walk happens on its own goroutine;
// the caller observes it through the returned session.
func (a *Agent) Start(ctx context.Context, net ota.NetworkParams, params ota.AgentParams, store storage.Interface) (*ota.Session, error) {
	if store == nil {
		return nil, errors.New("no storage interface provided")
	}
	session := ota.NewSession()
	go a.run(ctx, session, net, params, store)
	return session, nil
}

// errStopped distinguishes an observer veto from an internal failure.
var errStopped = errors.New("session stopped by observer")

func (a *Agent) run(ctx context.Context, session *ota.Session, net ota.NetworkParams, params ota.AgentParams, store storage.Interface) {
	defer session.End()

	err := a.walk(ctx, session, net, params, store)
	if err == nil {
		session.Notify(ctx, &ota.Event{State: ota.StateOTAComplete, Reason: ota.ReasonSuccess})
		return
	}

	if !errors.Is(err, errStopped) {
		a.log.WithError(err).Debug("scripted session failed")
	}
	session.Notify(ctx, &ota.Event{State: ota.StateExiting, Reason: ota.ReasonFailure})
}

// notify delivers a state-change event and folds a Stop response into the
// error return.
func (a *Agent) notify(ctx context.Context, session *ota.Session, ev *ota.Event) error {
	ev.Reason = ota.ReasonStateChange
	result, err := session.Notify(ctx, ev)
	if err != nil {
		return err
	}
	if result == ota.ResultStop {
		return errStopped
	}
	return nil
}

func (a *Agent) walk(ctx context.Context, session *ota.Session, net ota.NetworkParams, params ota.AgentParams, store storage.Interface) error {
	step := func(ev *ota.Event) error {
		return a.notify(ctx, session, ev)
	}

	for _, s := range []ota.State{ota.StateAgentStarted, ota.StateAgentWaiting, ota.StateStartUpdate} {
		if err := step(&ota.Event{State: s}); err != nil {
			return err
		}
	}

	if net.UseJobFlow {
		jobDoc := fmt.Sprintf(`{"Server":%q,"Port":%d,"File":"/image.bin"}`, net.Server.Host, net.Server.Port)
		jobSteps := []*ota.Event{
			{State: ota.StateJobConnect, Server: net.Server, File: net.JobFile},
			{State: ota.StateJobDownload, File: net.JobFile},
			{State: ota.StateJobDisconnect},
			{State: ota.StateJobParse, JSONDoc: jobDoc},
		}
		for _, ev := range jobSteps {
			if err := step(ev); err != nil {
				if ev.State == ota.StateJobConnect && errors.Is(err, errStopped) {
					session.SetLastError(ota.ErrMalformedJob)
				}
				return err
			}
		}
	}

	if err := step(&ota.Event{State: ota.StateDataConnect, Server: net.Server}); err != nil {
		return err
	}

	if err := step(&ota.Event{State: ota.StateStorageOpen}); err != nil {
		return err
	}
	handle, err := store.Open(session.ID())
	if err != nil {
		session.SetLastError(ota.ErrWriteStorage)
		return err
	}
	defer handle.Close()

	if err := step(&ota.Event{State: ota.StateDataDownload, File: "/image.bin"}); err != nil {
		return err
	}

	var written int64
	for written < a.ImageSize {
		n := a.ChunkSize
		if remain := a.ImageSize - written; remain < n {
			n = remain
		}
		if _, err := handle.Write(bytes.Repeat([]byte{0xa5}, int(n))); err != nil {
			session.SetLastError(ota.ErrWriteStorage)
			return err
		}
		written += n
		ev := &ota.Event{
			State:        ota.StateStorageWrite,
			BytesWritten: written,
			TotalSize:    a.ImageSize,
			Percentage:   int(written * 100 / a.ImageSize),
		}
		if err := step(ev); err != nil {
			return err
		}
	}

	if err := step(&ota.Event{State: ota.StateDataDisconnect}); err != nil {
		return err
	}
	if err := step(&ota.Event{State: ota.StateStorageClose}); err != nil {
		return err
	}

	if err := step(&ota.Event{State: ota.StateVerify}); err != nil {
		return err
	}
	if err := handle.Verify(a.ImageSize); err != nil {
		session.SetLastError(ota.ErrVerify)
		return err
	}

	if !params.SuppressResultSend {
		resultSteps := []*ota.Event{
			{State: ota.StateResultConnect, Server: net.Server},
			{State: ota.StateResultSend, JSONDoc: `{"Message":"Success"}`},
			{State: ota.StateResultResponse},
			{State: ota.StateResultDisconnect},
		}
		for _, ev := range resultSteps {
			if err := step(ev); err != nil {
				return err
			}
		}
	}

	return step(&ota.Event{State: ota.StateOTAComplete})
}
