// Package databus exports bus events to kafka for outer consumers.
package databus

import (
	"context"
	"gopkg.in/Shopify/sarama.v1"
	"moff.io/moff-defi/internal/config"
	"moff.io/moff-defi/internal/events"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"strings"
	"sync"
)

type Event interface {
	Serialize() []byte
	Topic() string
}

// Producer is the part of sarama.SyncProducer the bus uses.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

const queueSize = 256

type DataBus struct {
	producer Producer
	topic    string
	bus      *events.Bus

	queue    chan Event
	unsub    []func()
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewDataBus dials the comma separated kafka hosts. Without hosts events are only logged.
func NewDataBus(host, topic string, bus *events.Bus) (*DataBus, error) {
	if host == "" {
		log.Info("no kafka server configured, events are logged locally")
		return NewDataBusWithProducer(nil, topic, bus), nil
	}
	hosts := strings.Split(host, ",")
	conf := sarama.NewConfig()
	conf.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.WrapAndReport(err, "create kafka producer")
	}
	log.Info("Kafka producer initialized...")
	return NewDataBusWithProducer(p, topic, bus), nil
}

func NewDataBusWithProducer(p Producer, topic string, bus *events.Bus) *DataBus {
	return &DataBus{
		producer: p,
		topic:    topic,
		bus:      bus,
		queue:    make(chan Event, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Apply picks the kafka topic from the configuration.
func (db *DataBus) Apply(c *config.Configuration) {
	if c != nil && c.KafkaTopic != "" {
		db.topic = c.KafkaTopic
	}
}

// Start forwards session and transfer events until ctx ends. Bus handlers only enqueue, the
// kafka round trip happens on the worker.
func (db *DataBus) Start(ctx context.Context) {
	enqueue := func(e events.Event) {
		ev, ok := e.(Event)
		if !ok {
			return
		}
		select {
		case db.queue <- ev:
		default:
			log.Warnf("databus queue full, dropping %v event", ev.Topic())
		}
	}
	db.unsub = append(db.unsub,
		db.bus.Subscribe(events.TopicSession, enqueue),
		db.bus.Subscribe(events.TopicTransferComplete, enqueue),
	)
	go db.run(ctx)
}

func (db *DataBus) run(ctx context.Context) {
	defer close(db.done)
	for {
		select {
		case <-ctx.Done():
			db.drain()
			return
		case <-db.quit:
			db.drain()
			return
		case e := <-db.queue:
			db.send(e)
		}
	}
}

// drain sends what is already queued without waiting for more.
func (db *DataBus) drain() {
	for {
		select {
		case e := <-db.queue:
			db.send(e)
		default:
			return
		}
	}
}

func (db *DataBus) send(e Event) {
	if err := db.Publish(e); err != nil {
		log.Error(err)
	}
}

// Stop unsubscribes, lets the worker send what is queued and closes the producer.
func (db *DataBus) Stop() {
	db.stopOnce.Do(func() {
		for _, unsub := range db.unsub {
			unsub()
		}
		close(db.quit)
		if len(db.unsub) > 0 {
			<-db.done
		}
		if db.producer != nil {
			if err := db.producer.Close(); err != nil {
				log.Warnf("close kafka producer: %v", err)
			}
		}
	})
}

func (db *DataBus) PublishRaw(topic, key string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	if db.producer == nil {
		log.Debugf("databus - topic: %s key: %s message: %s", topic, key, string(raw))
		return nil
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(raw),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	partition, offset, err := db.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapAndReport(err, "produce message")
	}
	log.Debugf("produce message success-partition: %d, offset: %d", partition, offset)
	return nil
}

// Publish sends e to the configured kafka topic keyed by the event topic.
func (db *DataBus) Publish(e Event) error {
	return db.PublishRaw(db.topic, e.Topic(), e.Serialize())
}
