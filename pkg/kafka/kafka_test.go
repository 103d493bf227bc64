package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
)

type built struct {
	Index      string `json:"index"`
	Generation uint64 `json:"generation"`
}

func TestNewPublisherWithoutBrokers(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{}, "index.built")
	_, ok := p.(Discard)
	require.True(t, ok)
	assert.NoError(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}))
	assert.NoError(t, p.PublishBatch(context.Background(), []Event{{Key: "k"}}))
	assert.NoError(t, p.Close())

	p = NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "")
	_, ok = p.(Discard)
	assert.True(t, ok)
}

func TestNewPublisherWithBrokers(t *testing.T) {
	p := NewPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, "index.built")
	producer, ok := p.(*Producer)
	require.True(t, ok)
	assert.Equal(t, "index.built", producer.writer.Topic)
	assert.NoError(t, p.Close())
}

func TestEncode(t *testing.T) {
	msg, err := encode(Event{Key: "poems", Value: built{Index: "poems", Generation: 3}})
	require.NoError(t, err)
	assert.Equal(t, "poems", string(msg.Key))
	assert.JSONEq(t, `{"index":"poems","generation":3}`, string(msg.Value))

	_, err = encode(Event{Value: make(chan int)})
	assert.Error(t, err)
}

func TestHandleJSON(t *testing.T) {
	var got built
	handler := HandleJSON(func(_ context.Context, ev built) error {
		got = ev
		if ev.Generation == 0 {
			return errors.New("generation missing")
		}
		return nil
	})

	require.NoError(t, handler(context.Background(), []byte("poems"), []byte(`{"index":"poems","generation":9}`)))
	assert.Equal(t, built{Index: "poems", Generation: 9}, got)

	assert.ErrorContains(t, handler(context.Background(), nil, []byte(`{"index":"poems"}`)), "generation missing")
	assert.ErrorContains(t, handler(context.Background(), nil, []byte(`{`)), "decoding kafka message")
}
