package kafka

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/config"
)

func kafkaTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "taskforge-test",
			Topics: config.TopicsConfig{
				BusinessEvents:    "business-events",
				TaskGenerated:     "task-generated",
				GreyAreaDetected:  "grey-area-detected",
				GreyAreaEscalated: "grey-area-escalated",
			},
			Consumer: config.ConsumerConfig{
				WorkerCount:    2,
				MinBytes:       1,
				MaxBytes:       10e6,
				CommitInterval: time.Second,
			},
			Producer: config.ProducerConfig{
				BatchSize:    10,
				BatchTimeout: 100 * time.Millisecond,
				RequiredAcks: -1,
			},
		},
	}
}

func kafkaTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Stats must stay readable while workers bump them. The reader never dials
// until the first fetch, so no broker is needed here.
func TestConsumerStatsConcurrency(t *testing.T) {
	consumer := NewConsumer(kafkaTestConfig(), kafkaTestLogger(), nil, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			consumer.messageCount.Add(1)
			consumer.errorCount.Add(1)
			consumer.lastProcessed.Store(time.Now().UnixNano())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = consumer.GetStats()
		}
	}()
	wg.Wait()

	stats := consumer.GetStats()
	assert.Equal(t, int64(500), stats["messages_processed"])
	assert.Equal(t, int64(500), stats["errors"])

	processed, ok := stats["last_processed"].(time.Time)
	require.True(t, ok)
	assert.False(t, processed.IsZero())
}

func TestConsumerStatsStartEmpty(t *testing.T) {
	consumer := NewConsumer(kafkaTestConfig(), kafkaTestLogger(), nil, nil, nil)

	stats := consumer.GetStats()
	assert.Equal(t, int64(0), stats["messages_processed"])
	assert.Equal(t, int64(0), stats["errors"])

	processed, ok := stats["last_processed"].(time.Time)
	require.True(t, ok)
	assert.True(t, processed.IsZero())
}

func TestProducerStatsConcurrency(t *testing.T) {
	producer := NewProducer(kafkaTestConfig(), kafkaTestLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			producer.messageCount.Add(1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = producer.GetStats()
		}
	}()
	wg.Wait()

	stats := producer.GetStats()
	assert.Equal(t, int64(500), stats["messages_published"])
	assert.Equal(t, int64(0), stats["errors"])
}
