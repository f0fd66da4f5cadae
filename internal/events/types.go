package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventJobStarted     Event = "job.started"
	EventJobStopped     Event = "job.stopped"
	EventJobFailed      Event = "job.failed"
	EventJobWarning     Event = "job.warning"
)
