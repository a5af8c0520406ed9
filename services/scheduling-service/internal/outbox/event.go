package outbox

// Appointment lifecycle event types published to Kafka.
const (
	EventReserved        = "scheduling.appointment.reserved.v1"
	EventConfirmed       = "scheduling.appointment.confirmed.v1"
	EventExpired         = "scheduling.appointment.expired.v1"
	EventAvailabilitySet = "scheduling.availability.set.v1"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
