package model

import "time"

// Delivery attempt outcome constants.
const (
	DeliveryPending   = "pending"
	DeliverySucceeded = "success"
	DeliveryFailed    = "failure"
)

// DeliveryAttempt records one try at posting a submission's payload to its
// configured destination.
type DeliveryAttempt struct {
	DeliveryID   string     `json:"delivery_id"`
	SubmissionID string     `json:"submission_id"`
	Attempt      int        `json:"attempt"`
	Timestamp    time.Time  `json:"timestamp"`
	Outcome      string     `json:"outcome"`
	ResponseCode int        `json:"response_code,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// DeliveryPolicy controls webhook retry behavior. Attempt n (1-based) is
// scheduled InitialDelay * BackoffMultiplier^(n-1) after attempt n-1, capped
// at MaxDelay.
type DeliveryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// Backoff returns the delay before the given attempt number (2-based: the
// first attempt runs immediately).
func (p DeliveryPolicy) Backoff(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := initial
	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay > max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
