package jobhandler

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common"
	"github.com/prominence-eu/prominence/internal/common/app"
	commonconfig "github.com/prominence-eu/prominence/internal/common/config"
	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/health"
	"github.com/prominence-eu/prominence/internal/common/util"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/repository"
)

const defaultSubjectSuffix = "events"

// Run applies job events until a SIGINT or SIGTERM is received.
func Run(config Configuration) error {
	g, ctx := errgroup.WithContext(app.CreateContextWithShutdown())

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)
	shutdownHttpServer := common.ServeHttp(config.Http.Port, healthChecks)
	defer shutdownHttpServer()

	log.Infof("Connecting to NATS at %s", config.Nats.Url)
	nc, err := eventstream.Connect(config.Nats, util.ClientName("job-handler"))
	if err != nil {
		return errors.WithMessage(err, "error connecting to NATS")
	}
	defer eventstream.Close(nc, config.Nats.DrainTimeout)
	healthChecks.Add(eventstream.HealthChecker(nc))
	js, err := nc.JetStream()
	if err != nil {
		return errors.WithStack(err)
	}
	if err := eventstream.EnsureStream(js, config.JobEvents); err != nil {
		return errors.WithMessage(err, "error creating job events stream")
	}

	jobs, storeCheck, closeStore, err := repository.New(ctx, config.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	healthChecks.Add(storeCheck)

	consumerConfig := ConsumerConfig(config)
	if err := commonconfig.Validate(consumerConfig); err != nil {
		commonconfig.LogValidationErrors(err)
		return errors.WithMessage(err, "invalid consumer config")
	}
	handler := NewHandler(jobs, clock.RealClock{})
	consumer := eventstream.NewJetstreamConsumer(js, config.JobEvents.Name, consumerConfig, config.ShutdownTimeout, handler.HandleMessage)
	g.Go(func() error { return consumer.Run(ctx) })
	startupCompleteCheck.MarkComplete()

	return g.Wait()
}

// ConsumerConfig returns the consumer configuration for the subject suffix. Each suffix gets its
// own durable consumer so that variants don't share a delivery position.
func ConsumerConfig(config Configuration) eventstream.ConsumerConfig {
	consumerConfig := config.Consumer
	consumerConfig.Subject = model.JobSubjects(config.SubjectSuffix)
	if config.SubjectSuffix != defaultSubjectSuffix {
		consumerConfig.Durable = consumerConfig.Durable + "-" + config.SubjectSuffix
	}
	return consumerConfig
}
