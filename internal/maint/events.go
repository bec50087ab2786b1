package maint

// Event topics published by the maint module.
const (
	TopicWindowEnded = "maint.window.ended"
)
