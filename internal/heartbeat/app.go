package heartbeat

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
)

// Run removes lost workers until a SIGINT or SIGTERM is received.
func Run(config Configuration) error {
	ctx := app.CreateContextWithShutdown()

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	shutdownHttpServer := common.ServeHttp(config.Http.Port, healthChecks)
	defer shutdownHttpServer()

	log.Infof("Connecting to NATS at %s", config.Nats.Url)
	nc, err := eventstream.Connect(config.Nats, util.ClientName("worker-heartbeat"))
	if err != nil {
		return errors.WithMessage(err, "error connecting to NATS")
	}
	defer eventstream.Close(nc, config.Nats.DrainTimeout)
	healthChecks.Add(eventstream.HealthChecker(nc))
	js, err := nc.JetStream()
	if err != nil {
		return errors.WithStack(err)
	}

	workers, closeRegistry, err := registry.New(js, config.Registry)
	if err != nil {
		return err
	}
	defer closeRegistry()

	reaper := NewReaper(workers, config.LostAfter, clock.RealClock{})
	taskManager := task.NewBackgroundTaskManager("prominence_worker_heartbeat_")
	taskManager.Register(reaper.RunPass, config.Interval, "reaping")
	startupCompleteCheck.MarkComplete()
	log.Infof("Removing workers not seen for %s every %s", config.LostAfter, config.Interval)

	<-ctx.Done()
	if taskManager.StopAll(config.ShutdownTimeout) {
		log.Warnf("Heartbeat pass didn't finish within %s", config.ShutdownTimeout)
	}
	return nil
}
