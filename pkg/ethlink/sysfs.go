package ethlink

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/logging"
)

const sysClassNet = "/sys/class/net"

// sysfsManager is the host binding of Manager: the kernel owns the interface,
// so init is bookkeeping, and connecting means waiting out carrier and
// address assignment.
type sysfsManager struct {
	log    logging.Logger
	inited bool
}

// NewManager returns a Manager backed by the host's network interfaces.
func NewManager(log logging.Logger) Manager {
	return &sysfsManager{log: log}
}

func (m *sysfsManager) Init() error {
	m.inited = true
	return nil
}

func (m *sysfsManager) InterfaceInit(id InterfaceID, phy PHY) (Handle, error) {
	if !m.inited {
		return nil, errors.New("manager not initialized")
	}
	if phy == nil {
		return nil, errors.New("no PHY driver provided")
	}
	if _, err := net.InterfaceByName(string(id)); err != nil {
		return nil, errors.Wrapf(err, "no such interface %q", id)
	}
	if err := phy.Init(); err != nil {
		return nil, errors.WithMessage(err, "PHY init failed")
	}
	if err := phy.Configure(DefaultConfig); err != nil {
		return nil, errors.WithMessage(err, "PHY configure failed")
	}
	if logging.Debuggable {
		if ident, err := phy.Discover(); err == nil {
			m.log.WithField("phy", ident).Debug("discovered transceiver")
		}
	}
	return &sysfsHandle{id: id, phy: phy}, nil
}

func (m *sysfsManager) Connect(ctx context.Context, h Handle) (netip.Addr, error) {
	var none netip.Addr
	sh, ok := h.(*sysfsHandle)
	if !ok {
		return none, errors.Errorf("incompatible handle %T", h)
	}
	if err := ctx.Err(); err != nil {
		return none, err
	}

	up, err := sh.phy.LinkStatus()
	if err != nil {
		return none, errors.WithMessage(err, "unable to read link status")
	}
	if !up {
		return none, errors.Errorf("interface %q has no carrier", sh.id)
	}

	iface, err := net.InterfaceByName(string(sh.id))
	if err != nil {
		return none, errors.Wrapf(err, "interface %q disappeared", sh.id)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return none, errors.Wrap(err, "unable to list addresses")
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			continue
		}
		if logging.Debuggable {
			if cap, err := sh.phy.LinkPartnerCap(); err == nil {
				m.log.WithField("speed", cap.SpeedMbps).
					WithField("full-duplex", cap.FullDuplex).
					Debug("negotiated link")
			}
		}
		return addr.Unmap(), nil
	}
	return none, errors.Errorf("interface %q has carrier but no usable address", sh.id)
}

type sysfsHandle struct {
	id  InterfaceID
	phy PHY
}

func (h *sysfsHandle) Interface() InterfaceID {
	return h.id
}

// SysfsPHY reads transceiver state for a named interface from the kernel's
// sysfs tree. Configuration and reset are owned by the kernel driver, so both
// are acknowledged without action here.
type SysfsPHY struct {
	Name InterfaceID
	// Root overrides the sysfs mount for tests.
	Root string
}

var _ PHY = (*SysfsPHY)(nil)

func (p *SysfsPHY) root() string {
	if p.Root != "" {
		return p.Root
	}
	return sysClassNet
}

func (p *SysfsPHY) path(file string) string {
	return filepath.Join(p.root(), string(p.Name), file)
}

func (p *SysfsPHY) Init() error {
	if _, err := os.Stat(filepath.Join(p.root(), string(p.Name))); err != nil {
		return errors.Wrapf(err, "no sysfs entry for %q", p.Name)
	}
	return nil
}

func (p *SysfsPHY) Configure(_ Config) error {
	// The kernel driver negotiated the PHY long before we came along.
	return nil
}

func (p *SysfsPHY) Discover() (string, error) {
	b, err := os.ReadFile(p.path("address"))
	if err != nil {
		return "", errors.Wrap(err, "unable to read hardware address")
	}
	return strings.TrimSpace(string(b)), nil
}

func (p *SysfsPHY) Reset() error {
	return nil
}

func (p *SysfsPHY) LinkStatus() (bool, error) {
	b, err := os.ReadFile(p.path("carrier"))
	if err != nil {
		// carrier reads fail with EINVAL while the interface is down
		if errors.Is(err, os.ErrNotExist) {
			return false, errors.Wrap(err, "unable to read carrier")
		}
		return false, nil
	}
	return strings.TrimSpace(string(b)) == "1", nil
}

func (p *SysfsPHY) LinkSpeed() (int, error) {
	b, err := os.ReadFile(p.path("speed"))
	if err != nil {
		return 0, errors.Wrap(err, "unable to read link speed")
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrap(err, "unparseable link speed")
	}
	return speed, nil
}

// AutoNegStatus reports whether negotiation has settled. The kernel exposes
// duplex only once the link is resolved, so a readable duplex file is the
// completion signal.
func (p *SysfsPHY) AutoNegStatus() (bool, error) {
	if _, err := os.Stat(filepath.Join(p.root(), string(p.Name))); err != nil {
		return false, errors.Wrapf(err, "no sysfs entry for %q", p.Name)
	}
	b, err := os.ReadFile(p.path("duplex"))
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(string(b)) != "", nil
}

func (p *SysfsPHY) LinkPartnerCap() (Config, error) {
	speed, err := p.LinkSpeed()
	if err != nil {
		return Config{}, err
	}
	b, err := os.ReadFile(p.path("duplex"))
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to read duplex mode")
	}
	return Config{
		AutoNegotiate: true,
		SpeedMbps:     speed,
		FullDuplex:    strings.TrimSpace(string(b)) == "full",
	}, nil
}
