// Package messaging defines interfaces for real-time communication.
package messaging

// Broadcaster manages streaming clients that receive published notifications
// as preformatted SSE frames.
type Broadcaster interface {
	AddClient(topic string) chan string
	RemoveClient(ch chan string, topic string)
	ClientCount() int
}
