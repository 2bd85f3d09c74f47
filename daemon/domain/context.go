package domain

// Context holds the application runtime context including the event hub and configuration.
// It is threaded through every component constructor so nothing reaches for
// process-wide mutable state.
type Context struct {
	Hub *EventBus
	Config
}
