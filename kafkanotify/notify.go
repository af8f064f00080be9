// Package kafkanotify publishes run summaries to a Kafka topic so that
// downstream jobs (and humans tailing the topic) see every collector run
// without polling the store.
package kafkanotify

import (
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"
)

// Notifier implements plsk.Notifier over a sarama sync producer.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string
}

// New connects a producer to the given brokers.
func New(hosts []string, topic string) (*Notifier, error) {
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(hosts, conf)
	if err != nil {
		return nil, errors.Wrap(err, "getting new producer")
	}
	return &Notifier{producer: producer, topic: topic}, nil
}

// jsonSummary implements the sarama.Encoder interface for RunSummary.
type jsonSummary plsk.RunSummary

// Encode marshals the summary to json.
func (s *jsonSummary) Encode() ([]byte, error) {
	return json.Marshal((*plsk.RunSummary)(s))
}

// Length returns the length of the marshalled json.
func (s *jsonSummary) Length() int {
	data, _ := s.Encode()
	return len(data)
}

// Publish sends one summary message.
func (n *Notifier) Publish(sum *plsk.RunSummary) error {
	msg := &sarama.ProducerMessage{Topic: n.topic, Value: (*jsonSummary)(sum)}
	_, _, err := n.producer.SendMessage(msg)
	return errors.Wrap(err, "sending summary message")
}

// Close shuts the producer down.
func (n *Notifier) Close() error {
	return n.producer.Close()
}
