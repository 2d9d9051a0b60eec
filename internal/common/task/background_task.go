package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Func is a single pass of a background task. Errors are logged and counted; they never stop the task.
type Func func(ctx context.Context) error

type task struct {
	function    Func
	interval    time.Duration
	metricName  string
	stopChannel chan struct{}
	latency     prometheus.Histogram
	failures    prometheus.Counter
}

// BackgroundTaskManager runs tasks on a fixed interval. A task runs once immediately, then
// interval after each pass completes, so passes of the same task never overlap.
// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	registerer    prometheus.Registerer
	clock         clock.Clock
	ctx           context.Context
	cancel        context.CancelFunc
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return NewBackgroundTaskManagerWithClock(metricsPrefix, prometheus.DefaultRegisterer, clock.RealClock{})
}

func NewBackgroundTaskManagerWithClock(metricsPrefix string, registerer prometheus.Registerer, clock clock.Clock) *BackgroundTaskManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		clock:         clock,
		ctx:           ctx,
		cancel:        cancel,
		wg:            &sync.WaitGroup{},
	}
}

func (m *BackgroundTaskManager) Register(backgroundTask Func, interval time.Duration, metricName string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		metricName:  metricName,
		stopChannel: make(chan struct{}),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    m.metricsPrefix + metricName + "_latency_seconds",
				Help:    "Background loop " + metricName + " latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			}),
		failures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: m.metricsPrefix + metricName + "_failures_total",
				Help: "Number of failed " + metricName + " passes",
			}),
	}
	if m.registerer != nil {
		m.registerer.MustRegister(task.latency, task.failures)
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll stops every task, letting any pass in progress finish. It returns true if the
// tasks didn't stop within timeout.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	timedOut := m.waitForShutdownCompletion(timeout)
	m.cancel()
	return timedOut
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runPass(task)
		for {
			select {
			case <-m.clock.After(task.interval):
			case <-task.stopChannel:
				return
			}
			m.runPass(task)
		}
	}()
}

func (m *BackgroundTaskManager) runPass(task *task) {
	start := m.clock.Now()
	err := task.function(m.ctx)
	task.latency.Observe(m.clock.Since(start).Seconds())
	if err != nil {
		task.failures.Inc()
		log.WithError(err).Errorf("Background task %s failed", task.metricName)
	}
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
}
