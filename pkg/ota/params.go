package ota

// Connection selects the transport used for the agent's initial connection.
type Connection int

const (
	ConnectionHTTP Connection = iota
	ConnectionHTTPS
)

func (c Connection) String() string {
	if c == ConnectionHTTPS {
		return "https"
	}
	return "http"
}

// Server addresses the update or job server.
type Server struct {
	Host string
	Port int
}

// Credentials is the TLS material handed to the agent's dialers. The root CA
// bundle is required for TLS connections; the client pair is optional and
// only used when the server demands mutual authentication.
type Credentials struct {
	RootCA     []byte
	ClientCert []byte
	ClientKey  []byte
}

// UsesClientPair reports whether a client certificate and key were provided.
func (c Credentials) UsesClientPair() bool {
	return len(c.ClientCert) > 0 && len(c.ClientKey) > 0
}

// NetworkParams describes where and how the agent fetches its job and data.
// Values are built once before the agent starts and are not mutated after;
// the launcher owns them for the lifetime of the session.
type NetworkParams struct {
	Server      Server
	JobFile     string
	Credentials Credentials

	// UseJobFlow selects the job-descriptor discovery mode over direct
	// image download.
	UseJobFlow bool
	// InitialConnection is the transport kind for the first connection.
	InitialConnection Connection
}

// AgentParams carries the behavior switches the agent references, unmodified,
// for the duration of the session.
type AgentParams struct {
	// RebootOnCompletion reboots the host after a successful update.
	RebootOnCompletion bool
	// ValidateAfterReboot defers image validation to the next boot.
	ValidateAfterReboot bool
	// SuppressResultSend skips posting the session result to the server.
	SuppressResultSend bool
}
