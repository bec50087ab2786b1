package probes

// Event topics published by the probes module.
const (
	TopicProbeUpdated = "probes.probe.updated"
	TopicProbeDeleted = "probes.probe.deleted"
)
