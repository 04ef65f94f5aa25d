package contracts

import "time"

// EventConfirmedClaim is emitted when a claim reproduces.
const EventConfirmedClaim = "confirmed_claim"

// Subscription is a registered webhook endpoint. Created independently of
// claims and read at dispatch time.
type Subscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscribedTo reports whether the subscription wants the named event.
func (s Subscription) SubscribedTo(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}
