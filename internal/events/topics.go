package events

// Topic constants for domain events emitted by the payment engine.
const (
	TopicPaymentCreated   = "payment.created"
	TopicPaymentPaid      = "payment.paid"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentRefunded  = "payment.refunded"
	TopicBookingConfirmed = "booking.confirmed"
)