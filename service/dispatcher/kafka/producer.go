package kafka

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"ProjChat/module/chat/model"
)

// Archiver mirrors every persisted message onto a Kafka topic for
// downstream consumers (search indexing, analytics). The message key is
// the context key, so the hash partitioner keeps per-context order.
type Archiver struct {
	producer sarama.SyncProducer
	topic    string
}

type Config struct {
	Brokers []string
	Topic   string
}

func buildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key controls partition

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewArchiver(conf Config) (*Archiver, error) {
	if len(conf.Brokers) == 0 {
		return nil, errors.New("brokers is empty")
	}
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sarama config validate")
	}
	p, err := sarama.NewSyncProducer(conf.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new sync producer")
	}
	return &Archiver{producer: p, topic: conf.Topic}, nil
}

func (a *Archiver) Archive(m *model.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	_, _, err = a.producer.SendMessage(&sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(m.ContextKey),
		Value: sarama.ByteEncoder(b),
	})
	return errors.Wrap(err, "send message")
}

func (a *Archiver) Close() error {
	return a.producer.Close()
}
