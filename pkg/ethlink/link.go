// Package ethlink brings up the Ethernet link the update agent depends on.
// It owns no networking itself; it drives a connection Manager and a PHY
// driver binding and bounds the connect attempts.
package ethlink

import (
	"context"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
)

const (
	// DefaultMaxRetries bounds the connect attempts made by Establish.
	DefaultMaxRetries = 10
	// DefaultRetryDelay is the fixed wait between connect attempts.
	DefaultRetryDelay = 500 * time.Millisecond
)

// InterfaceID names the Ethernet interface to bring up.
type InterfaceID string

// Config carries the PHY settings applied at interface init.
type Config struct {
	// AutoNegotiate lets the PHY negotiate speed and duplex with its partner.
	AutoNegotiate bool
	// SpeedMbps is the forced link speed when auto-negotiation is off.
	SpeedMbps int
	// FullDuplex is the forced duplex mode when auto-negotiation is off.
	FullDuplex bool
}

// DefaultConfig is the PHY configuration used when none is supplied.
var DefaultConfig = Config{AutoNegotiate: true}

// PHY is the driver binding for the physical transceiver behind an interface.
type PHY interface {
	Init() error
	Configure(Config) error
	// Discover identifies the attached transceiver.
	Discover() (string, error)
	Reset() error
	// LinkStatus reports whether the link carrier is up.
	LinkStatus() (bool, error)
	// LinkSpeed reports the negotiated speed in Mbps.
	LinkSpeed() (int, error)
	// AutoNegStatus reports whether auto-negotiation has completed.
	AutoNegStatus() (bool, error)
	// LinkPartnerCap reports the configuration negotiated with the link
	// partner.
	LinkPartnerCap() (Config, error)
}

// Handle represents an initialized interface within a Manager.
type Handle interface {
	// Interface names the underlying interface.
	Interface() InterfaceID
}

// Manager is the connection manager driving interface bring-up.
type Manager interface {
	// Init prepares manager state. Called once before any interface init.
	Init() error
	// InterfaceInit binds the named interface to its PHY driver.
	InterfaceInit(id InterfaceID, phy PHY) (Handle, error)
	// Connect attempts to join the network, reporting the assigned address.
	Connect(ctx context.Context, h Handle) (netip.Addr, error)
}

// Establish initializes the manager and interface, then attempts to join the
// network up to retries times with a fixed delay between attempts. The first
// success reports the assigned address. Exhausting the attempts returns the
// last connect error; the caller decides whether that is fatal. Failures in
// either initialization step return immediately.
func Establish(ctx context.Context, log logging.Logger, mgr Manager, id InterfaceID, phy PHY, retries int, delay time.Duration) (netip.Addr, error) {
	var none netip.Addr

	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	if err := mgr.Init(); err != nil {
		return none, errors.WithMessage(err, "connection manager initialization failed")
	}

	log.WithField("interface", id).Debug("initializing interface")
	handle, err := mgr.InterfaceInit(id, phy)
	if err != nil {
		return none, errors.WithMessage(err, "interface initialization failed")
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		addr, err := mgr.Connect(ctx, handle)
		if err == nil {
			log.WithField("address", addr.String()).Info("link established")
			return addr, nil
		}
		lastErr = err

		if attempt == retries {
			break
		}
		log.WithError(err).Warnf("connect attempt %d of %d failed, retrying in %s", attempt, retries, delay)
		select {
		case <-ctx.Done():
			return none, errors.Wrap(ctx.Err(), "link establishment canceled")
		case <-time.After(delay):
		}
	}

	log.Errorf("exceeded maximum of %d connect attempts", retries)
	return none, errors.WithMessage(lastErr, "link establishment exhausted retries")
}
