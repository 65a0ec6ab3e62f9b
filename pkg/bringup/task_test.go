package bringup

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gotest.tools/assert"

	"github.com/edgefleet/otawatch/pkg/config"
	"github.com/edgefleet/otawatch/pkg/ethlink"
	"github.com/edgefleet/otawatch/pkg/internal/testoutput"
	"github.com/edgefleet/otawatch/pkg/logging"
	"github.com/edgefleet/otawatch/pkg/observer"
	"github.com/edgefleet/otawatch/pkg/ota"
	"github.com/edgefleet/otawatch/pkg/simulate"
	"github.com/edgefleet/otawatch/pkg/storage"
	"github.com/edgefleet/otawatch/pkg/transport"
)

type taskHandle struct {
	written int64
	closed  bool
}

func (h *taskHandle) Write(p []byte) (int, error) {
	h.written += int64(len(p))
	return len(p), nil
}

func (h *taskHandle) ReadAt(p []byte, off int64) (int, error) { return len(p), nil }

func (h *taskHandle) Verify(expected int64) error {
	if h.written != expected {
		return errors.Errorf("wrote %d, expected %d", h.written, expected)
	}
	return nil
}

func (h *taskHandle) Close() error {
	h.closed = true
	return nil
}

type taskStore struct {
	initErr     error
	validateErr error

	inited    bool
	validated []int
	handle    *taskHandle
}

func (s *taskStore) Init() error {
	if s.initErr != nil {
		return s.initErr
	}
	s.inited = true
	return nil
}

func (s *taskStore) Open(session uuid.UUID) (storage.Handle, error) {
	s.handle = &taskHandle{}
	return s.handle, nil
}

func (s *taskStore) Validate(appID int) error {
	if s.validateErr != nil {
		return s.validateErr
	}
	s.validated = append(s.validated, appID)
	return nil
}

func (s *taskStore) GetAppInfo(appID int) (*storage.AppInfo, error) { return nil, nil }

type taskManager struct {
	connectErr error
	connects   int
}

func (m *taskManager) Init() error { return nil }

func (m *taskManager) InterfaceInit(id ethlink.InterfaceID, phy ethlink.PHY) (ethlink.Handle, error) {
	return taskIface(id), nil
}

func (m *taskManager) Connect(ctx context.Context, h ethlink.Handle) (netip.Addr, error) {
	m.connects++
	if m.connectErr != nil {
		return netip.Addr{}, m.connectErr
	}
	return netip.MustParseAddr("192.0.2.20"), nil
}

type taskIface ethlink.InterfaceID

func (i taskIface) Interface() ethlink.InterfaceID { return ethlink.InterfaceID(i) }

type taskPHY struct{}

func (taskPHY) Init() error                    { return nil }
func (taskPHY) Configure(ethlink.Config) error { return nil }
func (taskPHY) Discover() (string, error)      { return "fake", nil }
func (taskPHY) Reset() error                   { return nil }
func (taskPHY) LinkStatus() (bool, error)      { return true, nil }
func (taskPHY) LinkSpeed() (int, error)        { return 1000, nil }
func (taskPHY) AutoNegStatus() (bool, error)   { return true, nil }
func (taskPHY) LinkPartnerCap() (ethlink.Config, error) {
	return ethlink.Config{AutoNegotiate: true, SpeedMbps: 1000, FullDuplex: true}, nil
}

type failingAgent struct {
	err error
}

func (a *failingAgent) Start(ctx context.Context, net ota.NetworkParams, params ota.AgentParams, store storage.Interface) (*ota.Session, error) {
	return nil, a.err
}

type taskRebooter struct {
	mu     sync.Mutex
	called bool
}

func (r *taskRebooter) Reboot(ctx context.Context) error {
	r.mu.Lock()
	r.called = true
	r.mu.Unlock()
	return nil
}

func (r *taskRebooter) rebooted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.called
}

func testConfig() *config.Config {
	return &config.Config{
		ServerHost:         "update.example.com",
		ServerPort:         443,
		JobFile:            "/job.json",
		UseJobFlow:         true,
		Interface:          "eth0",
		ConnectRetries:     2,
		RetryDelay:         time.Millisecond,
		RebootOnCompletion: false,
		SuppressResultSend: true,
		Agent:              "simulate",
	}
}

func testDeps(t *testing.T, store *taskStore) Deps {
	t.Helper()
	agent := simulate.New(testoutput.Logger(t, logging.New("agent")))
	agent.ImageSize = 1024
	agent.ChunkSize = 512
	return Deps{
		Store:     store,
		Manager:   &taskManager{},
		PHY:       taskPHY{},
		Bootstrap: transport.NewBootstrap(testoutput.Logger(t, logging.New("transport")), ota.Credentials{}, ota.ConnectionHTTP),
		Agent:     agent,
		Observer: observer.New(testoutput.Logger(t, logging.New("observer")),
			observer.WithOutput(&bytes.Buffer{})),
	}
}

func newTask(t *testing.T, cfg *config.Config, deps Deps) *Task {
	t.Helper()
	task, err := New(testoutput.Logger(t, logging.New("task")), cfg, deps)
	assert.NilError(t, err)
	task.notify = func(unsetEnv bool, state string) (bool, error) { return false, nil }
	return task
}

// runUntil runs the task and cancels its context once done observes the
// desired condition.
func runUntil(t *testing.T, task *Task, done func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	go func() { errs <- task.Run(ctx) }()

	deadline := time.After(10 * time.Second)
	for !done() {
		select {
		case err := <-errs:
			return err
		case <-deadline:
			t.Fatal("condition never reached")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-errs:
		return err
	case <-deadline:
		t.Fatal("task never returned")
	}
	return nil
}

func TestRunBringsUpAndParks(t *testing.T) {
	store := &taskStore{}
	deps := testDeps(t, store)
	task := newTask(t, testConfig(), deps)

	err := runUntil(t, task, deps.Observer.CompletedSuccessfully)
	assert.NilError(t, err)

	assert.Check(t, store.inited)
	assert.Check(t, store.handle != nil && store.handle.closed)
	assert.DeepEqual(t, store.validated, []int{0})
	assert.Check(t, task.Session() != nil)
	assert.Check(t, deps.Observer.CompletedSuccessfully())
}

func TestRunRebootOnCompletion(t *testing.T) {
	store := &taskStore{}
	deps := testDeps(t, store)
	rebooter := &taskRebooter{}
	deps.Rebooter = rebooter
	cfg := testConfig()
	cfg.RebootOnCompletion = true
	task := newTask(t, cfg, deps)

	err := runUntil(t, task, rebooter.rebooted)
	assert.NilError(t, err)
}

func TestRunSkipRevertValidation(t *testing.T) {
	store := &taskStore{}
	cfg := testConfig()
	cfg.SkipRevertValidation = true
	deps := testDeps(t, store)
	task := newTask(t, cfg, deps)

	err := runUntil(t, task, deps.Observer.CompletedSuccessfully)
	assert.NilError(t, err)
	assert.Check(t, len(store.validated) == 0)
}

func TestRunFatalSteps(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name string
		step string
		mod  func(*config.Config, *Deps)
	}{
		{
			name: "storage init",
			step: "storage-init",
			mod: func(cfg *config.Config, deps *Deps) {
				deps.Store.(*taskStore).initErr = boom
			},
		},
		{
			name: "image validation",
			step: "image-validation",
			mod: func(cfg *config.Config, deps *Deps) {
				deps.Store.(*taskStore).validateErr = boom
			},
		},
		{
			name: "link establish",
			step: "link-establish",
			mod: func(cfg *config.Config, deps *Deps) {
				deps.Manager.(*taskManager).connectErr = boom
			},
		},
		{
			name: "transport bootstrap",
			step: "transport-bootstrap",
			mod: func(cfg *config.Config, deps *Deps) {
				deps.Bootstrap = transport.NewBootstrap(
					testoutput.Logger(t, logging.New("transport")),
					ota.Credentials{RootCA: []byte("not a pem")},
					ota.ConnectionHTTPS)
			},
		},
		{
			name: "configuration",
			step: "configuration",
			mod: func(cfg *config.Config, deps *Deps) {
				cfg.TLS = true
				cfg.RootCAFile = "/nonexistent/ca.pem"
			},
		},
		{
			name: "agent start",
			step: "agent-start",
			mod: func(cfg *config.Config, deps *Deps) {
				deps.Agent = &failingAgent{err: boom}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			deps := testDeps(t, &taskStore{})
			tc.mod(cfg, &deps)
			task := newTask(t, cfg, deps)

			err := task.Run(context.Background())
			var fatal *FatalError
			assert.Check(t, errors.As(err, &fatal), "expected FatalError, got %v", err)
			assert.Check(t, fatal.Step == tc.step)
			assert.Check(t, errors.Is(err, fatal.Err))
		})
	}
}

func TestRunLinkRetriesBeforeFatal(t *testing.T) {
	deps := testDeps(t, &taskStore{})
	mgr := deps.Manager.(*taskManager)
	mgr.connectErr = errors.New("no carrier")
	cfg := testConfig()
	cfg.ConnectRetries = 3
	task := newTask(t, cfg, deps)

	err := task.Run(context.Background())
	var fatal *FatalError
	assert.Check(t, errors.As(err, &fatal))
	assert.Check(t, mgr.connects == 3)
}

func TestNewRejectsMissingDeps(t *testing.T) {
	log := testoutput.Logger(t, logging.New("task"))
	deps := testDeps(t, &taskStore{})

	_, err := New(log, nil, deps)
	assert.Check(t, err != nil)

	broken := deps
	broken.Observer = nil
	_, err = New(log, testConfig(), broken)
	assert.Check(t, err != nil)
}
