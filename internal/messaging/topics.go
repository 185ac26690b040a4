package messaging

// Topic constants for the relay event pipeline
const (
	// TopicRelayEvents carries accepted shares, weak blocks and pool events
	// from the pool servers to relayd
	TopicRelayEvents = "pool.relay_events"

	// DefaultGroupID is the consumer group shared by relayd replicas
	DefaultGroupID = "relayd"
)
