package kafka

// Topic definitions for the funnel platform. Kafka carries the marketing
// events so CRM sync and tagging never run inside a request.

const (
	// TopicMarketing carries lead and payment lifecycle events consumed by
	// the marketing worker (CRM sync, tagging, purchase fields).
	TopicMarketing = "funnel.marketing.events"

	// TopicDeadLetter receives events the marketing worker failed to process.
	TopicDeadLetter = "funnel.marketing.dlq"
)

// TopicConfig represents Kafka topic configuration
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionHours    int // How long to retain messages
	Description       string
}

// GetTopicConfigs returns all topic configurations
func GetTopicConfigs() []TopicConfig {
	return []TopicConfig{
		{
			Name:              TopicMarketing,
			NumPartitions:     10,
			ReplicationFactor: 3,
			RetentionHours:    168, // 7 days
			Description:       "Lead capture, abandonment and payment confirmation events",
		},
		{
			Name:              TopicDeadLetter,
			NumPartitions:     3,
			ReplicationFactor: 3,
			RetentionHours:    8760, // 1 year - keep failed messages for debugging
			Description:       "Failed messages from the marketing topic",
		},
	}
}

// Consumer group IDs
const (
	ConsumerGroupMarketing = "marketing-workers"
)
