package kafka

import (
	"os"
	"strings"
)

const defaultBroker = "localhost:9092"

// BrokersFromEnv reads KAFKA_BROKERS as a comma-separated list, defaulting to
// a local single-broker setup.
func BrokersFromEnv() []string {
	raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if raw == "" {
		return []string{defaultBroker}
	}
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return []string{defaultBroker}
	}
	return brokers
}
