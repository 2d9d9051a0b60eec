package workerhandler

import (
	"time"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/registry"
)

type Configuration struct {
	Http     commonconfig.HttpConfig
	Nats     eventstream.NatsConfig
	Registry registry.Config
	// Queue group shared by every worker handler replica
	Queue  string `validate:"required"`
	Shards int    `validate:"gte=1"`
	// Drop reports older than the latest one stored for the same worker
	RejectStaleReports bool
	// Number of workers whose latest report time is remembered when RejectStaleReports is set
	StaleReportCacheSize int
	ShutdownTimeout      time.Duration
}
