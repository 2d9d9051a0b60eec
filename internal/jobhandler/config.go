package jobhandler

import (
	"time"

	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/repository"
)

type Configuration struct {
	Http commonconfig.HttpConfig
	Nats eventstream.NatsConfig
	// Stream capturing jobs.<id>.events
	JobEvents eventstream.StreamConfig
	// The subject is derived from SubjectSuffix
	Consumer eventstream.ConsumerConfig `validate:"-"`
	Store    repository.Config
	// Events are consumed from jobs.*.<SubjectSuffix>. Only lifecycle event subjects can be decoded, so
	// the suffix is either events or a variant of it such as events-test.
	SubjectSuffix string `validate:"required,startswith=events,excludesall=.*>"`
	// Time allowed for in-flight events to be applied on shutdown
	ShutdownTimeout time.Duration
}
