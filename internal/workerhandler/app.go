package workerhandler

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/prominence-eu/prominence/internal/common"
	"github.com/prominence-eu/prominence/internal/common/app"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/health"
	"github.com/prominence-eu/prominence/internal/common/util"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/registry"
)

// Run stores worker status reports until a SIGINT or SIGTERM is received.
func Run(config Configuration) error {
	g, ctx := errgroup.WithContext(app.CreateContextWithShutdown())

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	shutdownHttpServer := common.ServeHttp(config.Http.Port, healthChecks)
	defer shutdownHttpServer()

	log.Infof("Connecting to NATS at %s", config.Nats.Url)
	nc, err := eventstream.Connect(config.Nats, util.ClientName("worker-handler"))
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

	handler := NewHandler(workers)
	if config.RejectStaleReports {
		handler, err = NewHandlerRejectingStaleReports(workers, config.StaleReportCacheSize)
		if err != nil {
			return err
		}
	}
	consumer := eventstream.NewCoreConsumer(
		nc, model.WorkerStatusSubjects, config.Queue, config.Shards, config.ShutdownTimeout, handler.HandleMessage)
	g.Go(func() error { return consumer.Run(ctx) })
	startupCompleteCheck.MarkComplete()

	return g.Wait()
}
