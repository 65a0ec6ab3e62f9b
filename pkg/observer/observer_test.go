package observer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/edgefleet/otawatch/pkg/internal/events"
	"github.com/edgefleet/otawatch/pkg/internal/testoutput"
	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/ota"
)

func testObserver(t *testing.T, opts ...Option) *Observer {
	return New(testoutput.Logger(t, logging.New("observer")), opts...)
}

func TestObserveNilEvent(t *testing.T) {
	o := testObserver(t)
	assert.Check(t, o.Observe(nil) == ota.ResultStop)
}

func TestObserveJobConnect(t *testing.T) {
	valid := []*ota.Event{
		events.JobConnect(),
		events.JobConnect(events.WithPort(80)),
		events.JobConnect(events.WithFile("/other.json")),
	}

	invalid := []*ota.Event{
		events.JobConnect(events.WithHost("")),
		events.JobConnect(events.WithPort(0)),
		events.JobConnect(events.WithFile("")),
		events.JobConnect(events.WithHost(""), events.WithPort(0), events.WithFile("")),
	}

	for i, ev := range valid {
		t.Run(fmt.Sprintf("continue(%d)", i), func(t *testing.T) {
			o := testObserver(t)
			assert.Check(t, o.Observe(ev) == ota.ResultContinue)
		})
	}

	for i, ev := range invalid {
		t.Run(fmt.Sprintf("stop(%d)", i), func(t *testing.T) {
			o := testObserver(t)
			assert.Check(t, o.Observe(ev) == ota.ResultStop)
		})
	}

	t.Run("repeat-veto", func(t *testing.T) {
		// A repeated malformed target must veto every time, never be
		// swallowed as a duplicate.
		o := testObserver(t)
		ev := events.JobConnect(events.WithHost(""))
		assert.Check(t, o.Observe(ev) == ota.ResultStop)
		assert.Check(t, o.Observe(ev) == ota.ResultStop)
	})
}

func TestObserveJobConnectTarget(t *testing.T) {
	var buf bytes.Buffer
	logging.Set(testoutput.Setter(t))
	logging.Set(logging.Output(&buf))
	defer logging.Set(testoutput.Revert())

	o := New(logging.New("observer"))
	result := o.Observe(events.JobConnect())
	assert.Check(t, result == ota.ResultContinue)
	assert.Check(t, strings.Contains(buf.String(), "update.example.com:443"))
	assert.Check(t, strings.Contains(buf.String(), "/job.json"))
}

func TestObserveDefaultContinue(t *testing.T) {
	states := []ota.State{
		ota.StateNotInitialized,
		ota.StateInitializing,
		ota.StateAgentStarted,
		ota.StateAgentWaiting,
		ota.StateExiting,
		ota.StateJobRedirect,
		ota.StateResultRedirect,
		ota.State(99), // future state
		ota.State(-1),
	}

	for _, s := range states {
		t.Run(s.String(), func(t *testing.T) {
			o := testObserver(t)
			assert.Check(t, o.Observe(events.StateChange(events.WithState(s))) == ota.ResultContinue)
		})
	}
}

func TestObserveTerminalReasons(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		o := testObserver(t)
		assert.Check(t, o.Observe(events.Success()) == ota.ResultContinue)
		assert.Check(t, o.CompletedSuccessfully())
	})

	t.Run("failure", func(t *testing.T) {
		o := testObserver(t)
		assert.Check(t, o.Observe(events.Failure()) == ota.ResultContinue)
		assert.Check(t, !o.CompletedSuccessfully())
	})

	t.Run("last-marker", func(t *testing.T) {
		o := testObserver(t)
		ev := events.Success(events.WithReason(ota.ReasonLast))
		assert.Check(t, o.Observe(ev) == ota.ResultContinue)
		assert.Check(t, !o.CompletedSuccessfully())
	})
}

func TestObserveStorageWrite(t *testing.T) {
	// Boundary and out-of-range values must not upset the formatter or
	// alter control flow.
	cases := []struct {
		written, total int64
		pct            int
	}{
		{0, 1024, 0},
		{512, 1024, 50},
		{1024, 1024, 100},
		{2048, 1024, 250},
		{-1, -1, -5},
	}

	o := testObserver(t, WithOutput(&bytes.Buffer{}))
	for _, c := range cases {
		ev := events.StorageWrite(events.WithProgress(c.written, c.total, c.pct))
		assert.Check(t, o.Observe(ev) == ota.ResultContinue)
	}
}

func TestObserveStorageWriteOverwritesLine(t *testing.T) {
	var buf bytes.Buffer
	o := testObserver(t, WithOutput(&buf))

	o.Observe(events.StorageWrite())
	assert.Check(t, strings.Contains(buf.String(), "50%"))
	assert.Check(t, strings.Contains(buf.String(), cursorUp))
}

func TestObserveProgressNeverDeduplicated(t *testing.T) {
	var buf bytes.Buffer
	o := testObserver(t, WithOutput(&buf))

	ev := events.StorageWrite()
	o.Observe(ev)
	o.Observe(ev)
	assert.Check(t, strings.Count(buf.String(), "50%") == 2)
}

func TestObserveDuplicateStateSuppressed(t *testing.T) {
	var buf bytes.Buffer
	logging.Set(testoutput.Setter(t))
	logging.Set(logging.Output(&buf))
	defer logging.Set(testoutput.Revert())

	o := New(logging.New("observer"))
	ev := events.DataConnect()
	assert.Check(t, o.Observe(ev) == ota.ResultContinue)
	assert.Check(t, o.Observe(ev) == ota.ResultContinue)
	assert.Check(t, strings.Count(buf.String(), "connecting for data") == 1)
}

func TestObserveLastErrorOption(t *testing.T) {
	var buf bytes.Buffer
	logging.Set(testoutput.Setter(t))
	logging.Set(logging.Output(&buf))
	defer logging.Set(testoutput.Revert())

	o := New(logging.New("observer"),
		WithLastError(func() ota.AgentError { return ota.ErrVerify }))
	assert.Check(t, o.Observe(events.Failure()) == ota.ResultContinue)
	assert.Check(t, strings.Contains(buf.String(), "image verification failed"))
}

func TestRunKeepsLastErrorOption(t *testing.T) {
	var buf bytes.Buffer
	logging.Set(testoutput.Setter(t))
	logging.Set(logging.Output(&buf))
	defer logging.Set(testoutput.Revert())

	o := New(logging.New("observer"),
		WithLastError(func() ota.AgentError { return ota.ErrServerDropped }))
	session := ota.NewSession()
	session.SetLastError(ota.ErrNone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx, session)
	}()

	_, err := session.Notify(ctx, events.Failure())
	assert.NilError(t, err)
	session.End()
	assert.NilError(t, <-done)

	// The supplied lookup wins over the session's own.
	assert.Check(t, strings.Contains(buf.String(), "server dropped connection"))
}

func TestRunAnswersDeliveries(t *testing.T) {
	o := testObserver(t)
	session := ota.NewSession()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx, session)
	}()

	result, err := session.Notify(ctx, events.JobConnect())
	assert.NilError(t, err)
	assert.Check(t, result == ota.ResultContinue)

	result, err = session.Notify(ctx, events.JobConnect(events.WithHost("")))
	assert.NilError(t, err)
	assert.Check(t, result == ota.ResultStop)

	// The veto also requests a session stop.
	select {
	case <-session.Stopping():
	case <-ctx.Done():
		t.Fatal("session was not stopped after veto")
	}

	// The terminal outcome still gets through after the veto.
	result, err = session.Notify(ctx, events.Failure())
	assert.NilError(t, err)
	assert.Check(t, result == ota.ResultContinue)
	assert.Check(t, !o.CompletedSuccessfully())

	session.End()
	assert.NilError(t, <-done)
}
