package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerEncodesValues(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "xetra.forecasts", "gzip")

	require.NoError(t, p.Publish(context.Background(), []byte("SAP"), map[string]int{"horizon": 24}))
	require.NoError(t, p.PublishBatch(context.Background(), []Message{
		{Key: []byte("BMW"), Value: "raw"},
		{Key: []byte("DAI"), Value: []byte(`{"a":1}`)},
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "SAP", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"horizon":24}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, `{"a":1}`, string(w.msgs[2].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerWrapsWriteErrors(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newProducer(w, "xetra.forecasts", "gzip")

	err := p.Publish(context.Background(), nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xetra.forecasts")
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(WithTopic("t", false))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithTopic("t", false))
	require.NoError(t, err)
	assert.Equal(t, "t", p.Topic())
	assert.NoError(t, p.Close())
}
