// Package kafka publishes and consumes Kafka messages with the correlation id of the diagnostic scope.
package kafka

import (
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/rainbow-me/platform-mdc/common/headers"
)

const componentName = "kafka"

// Message headers are matched case-insensitively, the first occurrence wins.
type messageHeaders []kafka.Header

func (h messageHeaders) Get(key string) string {
	for _, header := range h {
		if strings.EqualFold(header.Key, key) {
			return string(header.Value)
		}
	}
	return ""
}

var _ headers.Getter = messageHeaders(nil)

func topicOf(msg *kafka.Message) string {
	if msg == nil || msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

// ConfigMap returns the client configuration shared by producers and consumers. Client logs are
// delivered on the Logs channel so they can be forwarded with ForwardLogs.
func ConfigMap(brokers []string, extra kafka.ConfigMap) *kafka.ConfigMap {
	cm := kafka.ConfigMap{
		"bootstrap.servers":      strings.Join(brokers, ","),
		"go.logs.channel.enable": true,
	}
	for k, v := range extra {
		cm[k] = v
	}
	return &cm
}
