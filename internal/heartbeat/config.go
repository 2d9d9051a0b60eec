package heartbeat

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
	// Workers that haven't reported for longer than this are removed
	LostAfter time.Duration `validate:"required"`
	Interval  time.Duration `validate:"required"`
	// Time allowed for a pass in progress to finish on shutdown
	ShutdownTimeout time.Duration
}
