// Package observer watches a running agent session and logs every state
// transition and terminal outcome. It is a passive observer: the only
// influence it has over the agent is its per-event response, and the only
// event it ever vetoes is a malformed job-connect target.
package observer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/observer/cache"
	"github.com/edgefleet/otawatch/pkg/ota"
)

// cursorUp repositions the terminal cursor to overwrite the previous progress
// line during storage writes.
const cursorUp = "\x1b[1F"

// Observer consumes agent deliveries and answers each with a Result.
type Observer struct {
	log  logging.Logger
	out  io.Writer
	last cache.LastCache

	// lastError reports the agent's recorded error code for terminal lines.
	// Left nil, Run installs the session's own lookup.
	lastError func() ota.AgentError

	mu          sync.Mutex
	finalReason ota.Reason
}

// Option adjusts an Observer at construction.
type Option func(*Observer)

// WithOutput redirects the raw progress output, which otherwise goes to
// stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Observer) {
		o.out = w
	}
}

// WithLastError supplies the error-code lookup used in terminal log lines.
func WithLastError(fn func() ota.AgentError) Option {
	return func(o *Observer) {
		o.lastError = fn
	}
}

// New builds an Observer logging through log.
func New(log logging.Logger, opts ...Option) *Observer {
	o := &Observer{
		log:         log,
		out:         os.Stdout,
		last:        cache.NewLastCache(),
		finalReason: ota.ReasonStateChange,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes deliveries from the session until the agent ends it or ctx is
// done, answering each through Observe.
func (o *Observer) Run(ctx context.Context, session *ota.Session) error {
	if o.lastError == nil {
		o.lastError = session.LastError
	}
	for {
		select {
		case d, ok := <-session.Deliveries():
			if !ok {
				o.log.Debug("delivery stream ended")
				return nil
			}
			result := o.Observe(d.Event)
			if result == ota.ResultStop {
				session.Stop()
			}
			d.Respond(result)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CompletedSuccessfully reports whether a success outcome was observed.
func (o *Observer) CompletedSuccessfully() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalReason == ota.ReasonSuccess
}

// Observe decodes a single event and answers it. A nil event is an immediate
// stop signal. All states outside those explicitly handled, including
// unknown future ones, answer Continue without output.
func (o *Observer) Observe(ev *ota.Event) ota.Result {
	if ev == nil {
		return ota.ResultStop
	}

	stateString := ota.StateString(ev.State)
	errorString := ota.ErrorString(o.lastErrorCode())

	switch ev.Reason {
	case ota.ReasonLast:
		// terminal marker, nothing to report

	case ota.ReasonSuccess:
		o.recordFinal(ota.ReasonSuccess)
		o.log.Infof("update succeeded in state %d (%s), last error: %s", ev.State, stateString, errorString)

	case ota.ReasonFailure:
		o.recordFinal(ota.ReasonFailure)
		o.log.Errorf("update failed in state %d (%s), last error: %s", ev.State, stateString, errorString)

	case ota.ReasonStateChange:
		return o.observeState(ev)
	}

	return ota.ResultContinue
}

func (o *Observer) lastErrorCode() ota.AgentError {
	if o.lastError == nil {
		return ota.ErrNone
	}
	return o.lastError()
}

func (o *Observer) recordFinal(r ota.Reason) {
	o.mu.Lock()
	o.finalReason = r
	o.mu.Unlock()
}

func (o *Observer) observeState(ev *ota.Event) ota.Result {
	// The veto must fire on every malformed job target, so validate ahead
	// of duplicate suppression.
	if ev.State == ota.StateJobConnect {
		if ev.Server.Host == "" || ev.Server.Port == 0 || ev.File == "" {
			o.log.Errorf("malformed job target: server %q port %d file %q",
				ev.Server.Host, ev.Server.Port, ev.File)
			return ota.ResultStop
		}
	}

	// Progress updates always print; everything else suppresses exact
	// repeats of the previous report for the state.
	if ev.State != ota.StateStorageWrite {
		if last := o.last.Last(ev); ota.Equivalent(last, ev) {
			return ota.ResultContinue
		}
		o.last.Record(ev)
	}

	switch ev.State {
	case ota.StateNotInitialized,
		ota.StateInitializing,
		ota.StateAgentStarted,
		ota.StateAgentWaiting,
		ota.StateExiting:
		// quiet states

	case ota.StateStartUpdate:
		o.log.Info("starting update")

	case ota.StateJobConnect:
		o.log.Infof("connecting for job to %s:%d, file %q", ev.Server.Host, ev.Server.Port, ev.File)

	case ota.StateJobDownload:
		o.log.Infof("downloading job via %q", ev.File)

	case ota.StateJobDisconnect:
		o.log.Info("job server disconnected")

	case ota.StateJobParse:
		o.log.Infof("parsing job document: %s", ev.JSONDoc)

	case ota.StateJobRedirect:
		o.log.Info("job redirected")

	case ota.StateDataConnect:
		o.log.Infof("connecting for data to %s:%d", ev.Server.Host, ev.Server.Port)

	case ota.StateDataDownload:
		o.log.Infof("downloading data via %q to file %q", ev.JSONDoc, ev.File)

	case ota.StateDataDisconnect:
		o.log.Info("data server disconnected")

	case ota.StateVerify:
		o.log.Info("verifying image")

	case ota.StateResultConnect:
		o.log.Infof("connecting to report result to %s:%d", ev.Server.Host, ev.Server.Port)

	case ota.StateResultSend:
		o.log.Infof("sending result %q", ev.JSONDoc)

	case ota.StateResultResponse:
		o.log.Info("result response received")

	case ota.StateResultDisconnect:
		o.log.Info("result server disconnected")

	case ota.StateResultRedirect:
		o.log.Info("result redirected")

	case ota.StateStorageOpen:
		o.log.Info("storage open")

	case ota.StateStorageWrite:
		fmt.Fprintf(o.out, "storage write %d%% (%d of %d)\n%s",
			ev.Percentage, ev.BytesWritten, ev.TotalSize, cursorUp)

	case ota.StateStorageClose:
		o.log.Info("storage close")

	case ota.StateOTAComplete:
		o.log.Info("update session complete")

	default:
		// unknown or future state
	}

	return ota.ResultContinue
}
