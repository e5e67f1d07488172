package chathub

import "chatgogo/messenger/internal/models"

// Client is the interface for any push connection subscribed to one topic.
// The hub only ever writes to a client; what arrives on the connection
// itself is not interpreted.
type Client interface {
	// GetParticipantID returns the authenticated participant behind the connection.
	GetParticipantID() string
	// GetTopic returns the topic the client subscribed to, e.g. "room:A_B"
	// or "thread:T1".
	GetTopic() string

	// GetSendChannel returns the channel the hub delivers message events to.
	GetSendChannel() chan<- models.Message

	// Run starts the client's pumps.
	Run()
	// Close shuts down the send channel. Called by the hub only.
	Close()
}
