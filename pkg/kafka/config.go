package kafka

import "time"

// ProducerOption configures a Producer.
type ProducerOption func(*ProducerConfig)

// ProducerConfig is the writer layout of a Producer.
type ProducerConfig struct {
	Brokers         []string
	Topic           string
	AutoCreateTopic bool
	RequiredAcks    int
	Compression     string
	MaxAttempts     int
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	BatchSize       int
	BatchBytes      int
	BatchTimeout    time.Duration
	Async           bool
	HashByKey       bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *ProducerConfig) {
		c.Brokers = brokers
	}
}

// WithTopic sets the topic every message is written to. With autoCreate the
// writer creates it on first use.
func WithTopic(topic string, autoCreate bool) ProducerOption {
	return func(c *ProducerConfig) {
		c.Topic = topic
		c.AutoCreateTopic = autoCreate
	}
}

// WithDelivery sets acknowledgements (-1 = all in-sync replicas), the number
// of write attempts and the codec (gzip, snappy, lz4, zstd or none).
// Zero values keep the defaults.
func WithDelivery(acks, attempts int, compression string) ProducerOption {
	return func(c *ProducerConfig) {
		if acks != 0 {
			c.RequiredAcks = acks
		}
		if attempts > 0 {
			c.MaxAttempts = attempts
		}
		if compression != "" {
			c.Compression = compression
		}
	}
}

// WithBatching sets how many messages or bytes are collected, and for how
// long, before a batch is flushed.
func WithBatching(size, bytes int, linger time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if size > 0 {
			c.BatchSize = size
		}
		if bytes > 0 {
			c.BatchBytes = bytes
		}
		if linger > 0 {
			c.BatchTimeout = linger
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(c *ProducerConfig) {
		if write > 0 {
			c.WriteTimeout = write
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

// WithAsync makes Publish return before the broker acknowledges.
func WithAsync(async bool) ProducerOption {
	return func(c *ProducerConfig) {
		c.Async = async
	}
}

// WithHashByKey routes all forecasts of one symbol to the same partition.
func WithHashByKey(hash bool) ProducerOption {
	return func(c *ProducerConfig) {
		c.HashByKey = hash
	}
}
