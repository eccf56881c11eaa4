package redisx

import "fmt"

const ns = "pelada:v1"

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

// KeyIdempotency scopes a client supplied Idempotency-Key to a member and
// a route so keys cannot collide across callers.
func KeyIdempotency(scope string, memberID int64, key string) string {
	return fmt.Sprintf("%s:idem:%s:%d:%s", ns, scope, memberID, key)
}

func KeyChargeLock(idemKey string) string {
	return fmt.Sprintf("%s:lock:charge:%s", ns, idemKey)
}

func ChannelEventsChanged() string {
	return ns + ":events:changed"
}
