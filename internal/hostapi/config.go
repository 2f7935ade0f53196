package hostapi

import "time"

type Config struct {
	HTTPAddr         string        `envconfig:"RWS_HOST_HTTP_ADDR" default:"127.0.0.1:8022"`
	RemoteURL        string        `envconfig:"RWS_REMOTE_URL" required:"true"`
	RemoteHost       string        `envconfig:"RWS_REMOTE_HOST"`
	SSHConfigPath    string        `envconfig:"RWS_SSH_CONFIG_PATH"`
	SSHExecutable    string        `envconfig:"RWS_SSH_EXECUTABLE" default:"ssh"`
	SSHUser          string        `envconfig:"RWS_SSH_USER" default:"root"`
	SSHIdentityFile  string        `envconfig:"RWS_SSH_IDENTITY_FILE"`
	EditorExecutable string        `envconfig:"RWS_EDITOR_EXECUTABLE" default:"code"`
	RemoteTimeout    time.Duration `envconfig:"RWS_REMOTE_TIMEOUT" default:"30s"`
	// HTTPProxy routes daemon requests through a proxy. Empty falls back
	// to HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
	HTTPProxy       string        `envconfig:"RWS_HTTP_PROXY"`
	LogLevel        string        `envconfig:"RWS_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"RWS_SHUTDOWN_TIMEOUT" default:"10s"`
}
