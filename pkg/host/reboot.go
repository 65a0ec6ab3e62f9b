// Package host binds the small set of host facilities the supervisor needs
// beyond the network: rebooting into a newly applied image.
package host

import (
	"context"

	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
)

const (
	login1Service   = "org.freedesktop.login1"
	login1Path      = "/org/freedesktop/login1"
	login1Reboot    = "org.freedesktop.login1.Manager.Reboot"
	login1Interact  = false // never prompt for authorization
)

// Rebooter restarts the host.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

type logindRebooter struct {
	log logging.Logger
}

// NewRebooter returns a Rebooter backed by systemd-logind over the system
// bus.
func NewRebooter(log logging.Logger) Rebooter {
	return &logindRebooter{log: log}
}

func (r *logindRebooter) Reboot(ctx context.Context) error {
	r.log.Info("requesting host reboot")
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return errors.Wrap(err, "unable to reach system bus")
	}
	defer conn.Close()
	if err := conn.Auth(nil); err != nil {
		return errors.Wrap(err, "system bus auth failed")
	}
	if err := conn.Hello(); err != nil {
		return errors.Wrap(err, "system bus hello failed")
	}

	obj := conn.Object(login1Service, dbus.ObjectPath(login1Path))
	call := obj.CallWithContext(ctx, login1Reboot, 0, login1Interact)
	return errors.Wrap(call.Err, "logind reboot request failed")
}
