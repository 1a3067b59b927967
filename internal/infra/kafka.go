// README: Kafka reader construction for the location ingest stream.
package infra

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// NewKafkaReader builds a consumer-group reader. brokers is a comma-separated
// list so it can come straight from the environment.
func NewKafkaReader(brokers, topic, groupID string) *kafka.Reader {
	var bs []string
	for _, b := range strings.Split(brokers, ",") {
		if s := strings.TrimSpace(b); s != "" {
			bs = append(bs, s)
		}
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  bs,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}
