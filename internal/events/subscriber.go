package events

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers events on the returned channel. The topic may use
	// NATS wildcards such as "issuesearch.issue.>". Call the returned
	// cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Envelope, func(), error)
	Close() error
}
