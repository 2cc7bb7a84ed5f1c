// Package channel defines the interface for delivery channel collaborators
// and the registry used to route obligations to them.
package channel

import "context"

// Content is the rendered message handed to a channel collaborator.
type Content struct {
	Subject string
	Body    string
	HTML    string
}

// Sender is the interface every delivery channel must implement.
type Sender interface {
	// Send delivers content to the given recipient identity. The identity
	// format depends on the channel: an email address, a chat webhook URL,
	// or a phone number in E.164 form.
	Send(ctx context.Context, recipient string, content *Content) error

	// Type returns the channel this sender handles (e.g. "email", "chat", "sms").
	Type() string

	// IsConfigured reports whether the channel can send in this deployment.
	// An unconfigured channel causes obligations to be skipped, not failed.
	IsConfigured() bool
}

// Registry manages channel senders.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry creates a new channel registry.
func NewRegistry() *Registry {
	return &Registry{
		senders: make(map[string]Sender),
	}
}

// Register registers a channel sender.
func (r *Registry) Register(sender Sender) {
	r.senders[sender.Type()] = sender
}

// Get retrieves a sender by channel type.
func (r *Registry) Get(channelType string) (Sender, bool) {
	sender, ok := r.senders[channelType]
	return sender, ok
}

// List returns all registered channel types.
func (r *Registry) List() []string {
	types := make([]string, 0, len(r.senders))
	for t := range r.senders {
		types = append(types, t)
	}
	return types
}
