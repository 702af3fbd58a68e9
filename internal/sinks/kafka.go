// Package sinks provides sinkrt.Transport implementations: concrete wire
// carriers a sink runtime drives to actually deliver an encoded batch
// somewhere. The batching/retry/rescue loop lives once in internal/sinkrt;
// each Transport here only owns wire I/O.
package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaConfig covers the producer-construction fields a sarama client
// needs; batching/queueing fields are deliberately absent since
// internal/sinkrt.Runtime owns that policy.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	Topic           string        `yaml:"topic"`
	RequiredAcks    int16         `yaml:"required_acks"`
	Compression     string        `yaml:"compression"`
	MaxMessageBytes int           `yaml:"max_message_bytes"`
	RetryMax        int           `yaml:"retry_max"`
	Timeout         time.Duration `yaml:"timeout"`
	Partitioning    string        `yaml:"partitioning_strategy"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		Mechanism string `yaml:"mechanism"`
	} `yaml:"auth"`

	TLS struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"tls"`
}

// KafkaTransport implements sinkrt.Transport over a sarama sync producer.
// A sync producer (rather than an async producer with a response-draining
// goroutine) is used because Transport.Send's contract is synchronous:
// the sink runtime already owns retry/backoff and batching, so there is
// nothing for an async response-draining loop to do here.
type KafkaTransport struct {
	config   KafkaConfig
	logger   *logrus.Logger
	producer sarama.SyncProducer
}

// NewKafkaTransport builds a sarama sync producer from config, wiring SASL
// (PLAIN / SCRAM-SHA-256 / SCRAM-SHA-512 via XDGSCRAMClient), compression,
// and partitioner selection.
func NewKafkaTransport(config KafkaConfig, logger *logrus.Logger) (*KafkaTransport, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transport: no brokers configured")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka transport: no topic configured")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	if config.RequiredAcks != 0 {
		saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	}

	switch strings.ToLower(config.Compression) {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if config.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	}
	if config.RetryMax > 0 {
		saramaConfig.Producer.Retry.Max = config.RetryMax
	}
	if config.Timeout > 0 {
		saramaConfig.Net.DialTimeout = config.Timeout
		saramaConfig.Net.ReadTimeout = config.Timeout
		saramaConfig.Net.WriteTimeout = config.Timeout
	}

	if config.Auth.Enabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.Auth.Username
		saramaConfig.Net.SASL.Password = config.Auth.Password

		switch strings.ToUpper(config.Auth.Mechanism) {
		case "PLAIN":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
			}
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
			}
		}
	}

	if config.TLS.Enabled {
		saramaConfig.Net.TLS.Enable = true
	}

	switch strings.ToLower(config.Partitioning) {
	case "round-robin":
		saramaConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "random":
		saramaConfig.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka transport: failed to create producer: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"brokers":     config.Brokers,
		"topic":       config.Topic,
		"compression": config.Compression,
	}).Info("kafka transport initialized")

	return &KafkaTransport{config: config, logger: logger, producer: producer}, nil
}

// Send publishes every encoded record as one Kafka message, returning the
// first error encountered. sinkrt.Runtime treats a non-nil error as
// "nothing in this batch is guaranteed delivered" and rescues the whole
// batch, so there is no point continuing past the first failure.
func (kt *KafkaTransport) Send(ctx context.Context, encoded [][]byte) error {
	for _, payload := range encoded {
		msg := &sarama.ProducerMessage{
			Topic: kt.config.Topic,
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := kt.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("kafka transport: send failed: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Sync is a no-op: sarama's sync producer has already confirmed every
// SendMessage call by the time Send returns.
func (kt *KafkaTransport) Sync() error { return nil }

// Close releases the underlying producer.
func (kt *KafkaTransport) Close() error {
	return kt.producer.Close()
}
