package events

// Event topics published by the events module.
const (
	TopicConfigAlarm = "events.alarm.config"
)
