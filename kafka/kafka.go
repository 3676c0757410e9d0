// Package kafka publishes fetched records to a Kafka topic.
package kafka

import (
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// DefaultBatchSize is the number of records sent per request.
const DefaultBatchSize = 100

// Sink writes records to a topic keyed by record ID.
type Sink struct {
	Hosts     []string
	Topic     string
	BatchSize int
	Encoder   Encoder

	producer sarama.SyncProducer
	pending  []*sarama.ProducerMessage
	sent     int
}

// NewSink gets a new Sink writing JSON to topic.
func NewSink(topic string, hosts ...string) *Sink {
	return &Sink{
		Hosts:     hosts,
		Topic:     topic,
		BatchSize: DefaultBatchSize,
		Encoder:   JSONEncoder{},
	}
}

// Open connects to Kafka unless a producer was set with SetProducer.
func (s *Sink) Open() error {
	if s.Topic == "" {
		return &gdelt.ConfigurationError{Setting: "kafka.topic", Reason: "no topic"}
	}
	if s.producer != nil {
		return nil
	}
	if len(s.Hosts) == 0 {
		return &gdelt.ConfigurationError{Setting: "kafka.hosts", Reason: "no brokers"}
	}
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := sarama.NewConfig()
	config.Version = sarama.V0_11_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	p, err := sarama.NewSyncProducer(s.Hosts, config)
	if err != nil {
		return &gdelt.BackendUnavailableError{Backend: "kafka", Err: errors.Wrap(err, "getting new producer")}
	}
	s.producer = p
	return nil
}

// SetProducer replaces the producer, for tests.
func (s *Sink) SetProducer(p sarama.SyncProducer) {
	s.producer = p
}

// Write queues r, sending the batch when it is full.
func (s *Sink) Write(r *gdelt.RawRecord) error {
	if s.producer == nil {
		if err := s.Open(); err != nil {
			return err
		}
	}
	val, err := s.Encoder.Encode(r)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", r)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.Topic,
		Value: sarama.ByteEncoder(val),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(r.Kind.String())},
		},
	}
	if id := r.ID(); id != "" {
		msg.Key = sarama.StringEncoder(id)
	}
	s.pending = append(s.pending, msg)
	if len(s.pending) >= s.batchSize() {
		return s.Flush()
	}
	return nil
}

func (s *Sink) batchSize() int {
	if s.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return s.BatchSize
}

// Flush sends queued records.
func (s *Sink) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = nil
	if err := s.producer.SendMessages(batch); err != nil {
		return errors.Wrap(err, "sending messages")
	}
	s.sent += len(batch)
	return nil
}

// Sent is the number of records acknowledged by Kafka.
func (s *Sink) Sent() int { return s.sent }

// Close flushes and closes the producer.
func (s *Sink) Close() error {
	if s.producer == nil {
		return nil
	}
	err := s.Flush()
	if cerr := s.producer.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "closing kafka producer")
	}
	return err
}
