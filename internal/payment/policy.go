package payment

import "time"

// EligibleRefund computes the refund ceiling for a booking given the time
// remaining until its start. Pooling rides refund 100% with 24h notice and 50%
// with 12h; rentals need 48h and 24h respectively. Inside the final window
// nothing is refundable.
func EligibleRefund(totalAmount int64, startTime time.Time, serviceType ServiceType, now time.Time) int64 {
	if totalAmount <= 0 {
		return 0
	}
	remaining := startTime.Sub(now)
	switch serviceType {
	case ServiceRental:
		switch {
		case remaining >= 48*time.Hour:
			return totalAmount
		case remaining >= 24*time.Hour:
			return totalAmount / 2
		default:
			return 0
		}
	default: // pooling
		switch {
		case remaining >= 24*time.Hour:
			return totalAmount
		case remaining >= 12*time.Hour:
			return totalAmount / 2
		default:
			return 0
		}
	}
}
