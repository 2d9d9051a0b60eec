package matcher

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common"
	"github.com/prominence-eu/prominence/internal/common/app"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/health"
	"github.com/prominence-eu/prominence/internal/common/task"
	"github.com/prominence-eu/prominence/internal/common/util"
	"github.com/prominence-eu/prominence/internal/registry"
	"github.com/prominence-eu/prominence/internal/repository"
)

// Run runs matching passes until a SIGINT or SIGTERM is received.
func Run(config Configuration) error {
	ctx := app.CreateContextWithShutdown()

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	shutdownHttpServer := common.ServeHttp(config.Http.Port, healthChecks)
	defer shutdownHttpServer()

	log.Infof("Connecting to NATS at %s", config.Nats.Url)
	nc, err := eventstream.Connect(config.Nats, util.ClientName("matcher"))
	if err != nil {
		return errors.WithMessage(err, "error connecting to NATS")
	}
	defer eventstream.Close(nc, config.Nats.DrainTimeout)
	healthChecks.Add(eventstream.HealthChecker(nc))
	js, err := nc.JetStream()
	if err != nil {
		return errors.WithStack(err)
	}
	if err := eventstream.EnsureStream(js, config.WorkerJobs); err != nil {
		return errors.WithMessage(err, "error creating worker jobs stream")
	}

	jobs, storeCheck, closeStore, err := repository.New(ctx, config.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	healthChecks.Add(storeCheck)

	workers, closeRegistry, err := registry.New(js, config.Registry)
	if err != nil {
		return err
	}
	defer closeRegistry()

	matcher := NewMatcher(jobs, workers, eventstream.NewJetstreamPublisher(js, config.Publish), clock.RealClock{})
	taskManager := task.NewBackgroundTaskManager("prominence_matcher_")
	taskManager.Register(matcher.RunPass, config.Interval, "matching")
	startupCompleteCheck.MarkComplete()
	log.Infof("Matching every %s", config.Interval)

	<-ctx.Done()
	if taskManager.StopAll(config.ShutdownTimeout) {
		log.Warnf("Matching pass didn't finish within %s", config.ShutdownTimeout)
	}
	return nil
}
