// Package bringup sequences startup: storage, image validation, link,
// transport and finally the agent launch. The first failing step aborts the
// sequence with a FatalError; there is no partial recovery and no rollback.
// On success the task parks, leaving the agent and its observer running.
package bringup

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/config"
	"github.com/edgefleet/otawatch/pkg/ethlink"
	"github.com/edgefleet/otawatch/pkg/host"
	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/observer"
	"github.com/edgefleet/otawatch/pkg/ota"
	"github.com/edgefleet/otawatch/pkg/storage"
	"github.com/edgefleet/otawatch/pkg/transport"
	"github.com/edgefleet/otawatch/pkg/workgroup"
)

// FatalError reports an unrecoverable setup failure. The host process decides
// how to act on it; nothing below this point halts on its own.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal failure during %s: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(step string, err error) *FatalError {
	return &FatalError{Step: step, Err: err}
}

// Deps are the collaborators the task sequences. All are required except
// Rebooter, which is only consulted when reboot-on-completion is configured.
type Deps struct {
	Store     storage.Interface
	Manager   ethlink.Manager
	PHY       ethlink.PHY
	Bootstrap *transport.Bootstrap
	Agent     ota.Agent
	Observer  *observer.Observer
	Rebooter  host.Rebooter
}

// Task owns the startup sequence and the parked supervision that follows.
type Task struct {
	log  logging.Logger
	cfg  *config.Config
	deps Deps

	// notify reports service readiness; swapped out in tests.
	notify func(unsetEnv bool, state string) (bool, error)

	session *ota.Session
}

// New assembles a Task. The configuration and collaborators are referenced,
// not copied, and must not be mutated after.
func New(log logging.Logger, cfg *config.Config, deps Deps) (*Task, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("configuration is nil")
	case deps.Store == nil:
		return nil, errors.New("storage interface is nil")
	case deps.Manager == nil:
		return nil, errors.New("link manager is nil")
	case deps.PHY == nil:
		return nil, errors.New("PHY driver is nil")
	case deps.Bootstrap == nil:
		return nil, errors.New("transport bootstrap is nil")
	case deps.Agent == nil:
		return nil, errors.New("agent is nil")
	case deps.Observer == nil:
		return nil, errors.New("observer is nil")
	}
	return &Task{log: log, cfg: cfg, deps: deps, notify: daemon.SdNotify}, nil
}

// Session reports the running agent's handle, nil before a successful start.
// Once obtained the handle stays valid until process exit.
func (t *Task) Session() *ota.Session {
	return t.session
}

// Run executes the bring-up sequence, then parks until ctx is canceled while
// the observer consumes agent events. Any setup failure returns a FatalError.
func (t *Task) Run(ctx context.Context) error {
	t.log.Debug("starting")
	defer t.log.Debug("finished")

	if err := t.deps.Store.Init(); err != nil {
		return fatal("storage-init", err)
	}

	if t.cfg.SkipRevertValidation {
		t.log.Warn("skipping post-revert validation, image may be reverted on next boot")
	} else {
		if err := t.deps.Store.Validate(t.cfg.AppID); err != nil {
			return fatal("image-validation", err)
		}
	}

	addr, err := ethlink.Establish(ctx, t.log, t.deps.Manager,
		ethlink.InterfaceID(t.cfg.Interface), t.deps.PHY,
		t.cfg.ConnectRetries, t.cfg.RetryDelay)
	if err != nil {
		return fatal("link-establish", err)
	}
	t.log.WithField("address", addr.String()).Info("network link up")

	if err := t.deps.Bootstrap.Init(); err != nil {
		return fatal("transport-bootstrap", err)
	}

	netParams, err := t.cfg.NetworkParams()
	if err != nil {
		return fatal("configuration", err)
	}

	session, err := t.deps.Agent.Start(ctx, netParams, t.cfg.AgentParams(), t.deps.Store)
	if err != nil {
		return fatal("agent-start", err)
	}
	t.session = session
	t.log.WithField("session", session.ID().String()).Info("agent started")

	if sent, err := t.notify(false, daemon.SdNotifyReady); err != nil {
		t.log.WithError(err).Debug("readiness notification failed")
	} else if !sent {
		t.log.Debug("readiness notification unsupported")
	}

	group := workgroup.WithContext(ctx)
	group.Work(func(ctx context.Context) error {
		return t.supervise(ctx, session)
	})

	select {
	case <-ctx.Done():
		t.log.Info("waiting on workers to finish")
		err := group.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// supervise runs the observer loop and, when the session ends successfully
// and reboot-on-completion is configured, hands off to the host reboot.
func (t *Task) supervise(ctx context.Context, session *ota.Session) error {
	if err := t.deps.Observer.Run(ctx, session); err != nil {
		return err
	}
	if !t.deps.Observer.CompletedSuccessfully() {
		t.log.Info("agent session ended without success")
		return nil
	}
	t.log.Info("agent session completed successfully")
	if !t.cfg.RebootOnCompletion {
		return nil
	}
	if t.deps.Rebooter == nil {
		t.log.Warn("reboot requested but no rebooter available")
		return nil
	}
	return errors.WithMessage(t.deps.Rebooter.Reboot(ctx), "reboot request failed")
}
