// Package config collects the supervisor's configuration surface: the update
// server target, TLS material, link bring-up bounds and agent behavior
// switches. Values come from the config file, environment and flags by way of
// viper, and are read once into an immutable Config before anything starts.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/edgefleet/otawatch/pkg/ethlink"
	"github.com/edgefleet/otawatch/pkg/ota"
)

// Defaults mirroring the firmware build-time constants.
const (
	DefaultRetries    = ethlink.DefaultMaxRetries
	DefaultRetryDelay = ethlink.DefaultRetryDelay
	DefaultInterface  = "eth0"
	DefaultJobFile    = "/job.json"
	DefaultDataDir    = "/var/lib/otawatch"
	DefaultAppID      = 0
	DefaultAgent      = "simulate"
)

// Config is the assembled configuration. Built once at startup and handed by
// reference to the components that need it; never mutated after.
type Config struct {
	ServerHost string
	ServerPort int
	JobFile    string

	TLS            bool
	RootCAFile     string
	ClientCertFile string
	ClientKeyFile  string

	UseJobFlow bool

	Interface      string
	ConnectRetries int
	RetryDelay     time.Duration

	AppID int

	RebootOnCompletion  bool
	ValidateAfterReboot bool
	SuppressResultSend  bool

	// SkipRevertValidation leaves the running image unvalidated so the boot
	// logic may revert it; used when exercising rollback.
	SkipRevertValidation bool

	DataDir  string
	LogLevel string

	// Agent selects the registered update-agent binding to launch.
	Agent string
}

// SetDefaults seeds v with the stock configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 443)
	v.SetDefault("server.job-file", DefaultJobFile)
	v.SetDefault("tls.enabled", true)
	v.SetDefault("job-flow", true)
	v.SetDefault("link.interface", DefaultInterface)
	v.SetDefault("link.retries", DefaultRetries)
	v.SetDefault("link.retry-delay", DefaultRetryDelay)
	v.SetDefault("app-id", DefaultAppID)
	v.SetDefault("agent.reboot-on-completion", true)
	v.SetDefault("agent.validate-after-reboot", true)
	v.SetDefault("agent.suppress-result-send", true)
	v.SetDefault("data-dir", DefaultDataDir)
	v.SetDefault("log-level", "info")
	v.SetDefault("agent.binding", DefaultAgent)
}

// Load reads the configuration out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		ServerHost:           v.GetString("server.host"),
		ServerPort:           v.GetInt("server.port"),
		JobFile:              v.GetString("server.job-file"),
		TLS:                  v.GetBool("tls.enabled"),
		RootCAFile:           v.GetString("tls.root-ca"),
		ClientCertFile:       v.GetString("tls.client-cert"),
		ClientKeyFile:        v.GetString("tls.client-key"),
		UseJobFlow:           v.GetBool("job-flow"),
		Interface:            v.GetString("link.interface"),
		ConnectRetries:       v.GetInt("link.retries"),
		RetryDelay:           v.GetDuration("link.retry-delay"),
		AppID:                v.GetInt("app-id"),
		RebootOnCompletion:   v.GetBool("agent.reboot-on-completion"),
		ValidateAfterReboot:  v.GetBool("agent.validate-after-reboot"),
		SuppressResultSend:   v.GetBool("agent.suppress-result-send"),
		SkipRevertValidation: v.GetBool("skip-revert-validation"),
		DataDir:              v.GetString("data-dir"),
		LogLevel:             v.GetString("log-level"),
		Agent:                v.GetString("agent.binding"),
	}

	switch {
	case c.ServerHost == "":
		return nil, errors.New("no update server host configured")
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return nil, errors.Errorf("update server port %d out of range", c.ServerPort)
	case c.JobFile == "":
		return nil, errors.New("no job file path configured")
	case c.TLS && c.RootCAFile == "":
		return nil, errors.New("TLS enabled but no root CA file configured")
	case c.Agent == "":
		return nil, errors.New("no agent binding configured")
	}
	return c, nil
}

// Credentials loads the TLS credential bundle from the configured files. With
// TLS disabled it returns an empty bundle.
func (c *Config) Credentials() (ota.Credentials, error) {
	var creds ota.Credentials
	if !c.TLS {
		return creds, nil
	}
	rootCA, err := os.ReadFile(c.RootCAFile)
	if err != nil {
		return creds, errors.Wrap(err, "unable to read root CA bundle")
	}
	creds.RootCA = rootCA
	if c.ClientCertFile != "" {
		if creds.ClientCert, err = os.ReadFile(c.ClientCertFile); err != nil {
			return creds, errors.Wrap(err, "unable to read client certificate")
		}
	}
	if c.ClientKeyFile != "" {
		if creds.ClientKey, err = os.ReadFile(c.ClientKeyFile); err != nil {
			return creds, errors.Wrap(err, "unable to read client key")
		}
	}
	return creds, nil
}

// NetworkParams assembles the agent's network configuration aggregate.
func (c *Config) NetworkParams() (ota.NetworkParams, error) {
	creds, err := c.Credentials()
	if err != nil {
		return ota.NetworkParams{}, err
	}
	conn := ota.ConnectionHTTP
	if c.TLS {
		conn = ota.ConnectionHTTPS
	}
	return ota.NetworkParams{
		Server:            ota.Server{Host: c.ServerHost, Port: c.ServerPort},
		JobFile:           c.JobFile,
		Credentials:       creds,
		UseJobFlow:        c.UseJobFlow,
		InitialConnection: conn,
	}, nil
}

// AgentParams assembles the agent's behavior aggregate.
func (c *Config) AgentParams() ota.AgentParams {
	return ota.AgentParams{
		RebootOnCompletion:  c.RebootOnCompletion,
		ValidateAfterReboot: c.ValidateAfterReboot,
		SuppressResultSend:  c.SuppressResultSend,
	}
}
