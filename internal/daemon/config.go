package daemon

import (
	"time"

	"github.com/lzjever/remote-workspace/internal/gitservice"
	"github.com/lzjever/remote-workspace/internal/workspacefiles"
)

type Config struct {
	HTTPAddr           string                      `envconfig:"RWS_HTTP_ADDR" default:"0.0.0.0:8080"`
	GRPCAddr           string                      `envconfig:"RWS_GRPC_ADDR" default:"0.0.0.0:7070"`
	MetricsAddr        string                      `envconfig:"RWS_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel           string                      `envconfig:"RWS_LOG_LEVEL" default:"info"`
	DataDir            string                      `envconfig:"RWS_DATA_DIR" default:"/var/lib/remote-workspace"`
	ProjectName        string                      `envconfig:"RWS_PROJECT_NAME" default:"remote-workspace"`
	WorkspaceImage     string                      `envconfig:"RWS_WORKSPACE_IMAGE" default:"remote-workspace:latest"`
	SSHHostKeysDir     string                      `envconfig:"RWS_SSH_HOST_KEYS_DIR"`
	SSHVolume          string                      `envconfig:"RWS_SSH_VOLUME" default:"remote-workspace-ssh"`
	IdentityFile       string                      `envconfig:"RWS_IDENTITY_FILE"`
	Users              workspacefiles.UserList     `envconfig:"RWS_USERS"`
	DBDSN              string                      `envconfig:"RWS_DB_DSN"`
	DockerExecutable   string                      `envconfig:"RWS_DOCKER_EXECUTABLE" default:"docker"`
	ReconcileQueueSize int                         `envconfig:"RWS_RECONCILE_QUEUE_SIZE" default:"16"`
	ComposeTimeout     time.Duration               `envconfig:"RWS_COMPOSE_TIMEOUT" default:"10m"`
	LogTimeout         time.Duration               `envconfig:"RWS_LOG_TIMEOUT" default:"30s"`
	GitServiceTimeout  time.Duration               `envconfig:"RWS_GIT_SERVICE_TIMEOUT" default:"10s"`
	GitServiceRPS      float64                     `envconfig:"RWS_GIT_SERVICE_RPS" default:"5"`
	GitServices        gitservice.ServiceConfigMap `envconfig:"RWS_GIT_SERVICES"`
	ShutdownTimeout    time.Duration               `envconfig:"RWS_SHUTDOWN_TIMEOUT" default:"30s"`
}
