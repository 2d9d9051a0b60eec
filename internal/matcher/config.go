package matcher

import (
	"time"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/registry"
	"github.com/prominence-eu/prominence/internal/repository"
)

type Configuration struct {
	Http commonconfig.HttpConfig
	Nats eventstream.NatsConfig
	// Stream capturing the messages sent to workers on worker.job.<name>
	WorkerJobs eventstream.StreamConfig
	Publish    eventstream.PublishConfig
	Store      repository.Config
	Registry   registry.Config
	// Time between the end of one matching pass and the start of the next
	Interval time.Duration `validate:"required"`
	// Time allowed for a pass in progress to finish on shutdown
	ShutdownTimeout time.Duration
}
