package eventstream

import (
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// EnsureStream creates the stream if it doesn't exist yet. An existing stream is never updated.
func EnsureStream(js nats.JetStreamContext, config StreamConfig) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.Name,
		Subjects:  config.Subjects,
		MaxAge:    config.MaxAge,
		Replicas:  config.Replicas,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	}
	if config.InMemory {
		streamConfig.Storage = nats.MemoryStorage
	}
	if streamConfig.Replicas < 1 {
		streamConfig.Replicas = 1
	}

	info, err := js.StreamInfo(config.Name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		log.Infof("Creating stream %s for subjects %v", config.Name, config.Subjects)
		_, err = js.AddStream(streamConfig)
		return errors.WithStack(err)
	} else if err != nil {
		return errors.WithStack(err)
	}
	if !slices.Equal(info.Config.Subjects, config.Subjects) {
		log.Warnf("Stream %s captures %v rather than the configured %v", config.Name, info.Config.Subjects, config.Subjects)
	}
	return nil
}

// EnsureKeyValue returns the key-value bucket, creating it if it doesn't exist yet.
// Only the latest value of each key is kept.
func EnsureKeyValue(js nats.JetStreamContext, config KeyValueConfig) (nats.KeyValue, error) {
	kv, err := js.KeyValue(config.Bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, errors.WithStack(err)
	}
	log.Infof("Creating key-value bucket %s", config.Bucket)
	kvConfig := &nats.KeyValueConfig{
		Bucket:   config.Bucket,
		History:  1,
		Replicas: config.Replicas,
		Storage:  nats.FileStorage,
	}
	if config.InMemory {
		kvConfig.Storage = nats.MemoryStorage
	}
	kv, err = js.CreateKeyValue(kvConfig)
	return kv, errors.WithStack(err)
}

// ensureConsumer creates the durable push consumer if it doesn't exist. The consumer outlives
// any subscription bound to it, so the delivery position survives restarts.
func ensureConsumer(js nats.JetStreamContext, stream string, config ConsumerConfig) error {
	_, err := js.ConsumerInfo(stream, config.Durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return errors.WithStack(err)
	}
	log.Infof("Creating durable consumer %s on stream %s for %s", config.Durable, stream, config.Subject)
	consumerConfig := &nats.ConsumerConfig{
		Durable:        config.Durable,
		DeliverSubject: "_deliver." + config.Durable,
		DeliverGroup:   config.Durable,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        config.AckWait,
		MaxDeliver:     config.MaxDeliver,
		MaxAckPending:  config.MaxAckPending,
		FilterSubject:  config.Subject,
	}
	_, err = js.AddConsumer(stream, consumerConfig)
	return errors.WithStack(err)
}
