package cache

import "fmt"

func RateLimitKey(subject string) string {
	return fmt.Sprintf("threadpost:ratelimit:%s", subject)
}

// IdempotencyKey scopes a client-supplied Idempotency-Key to the caller so
// two API keys cannot collide.
func IdempotencyKey(caller, key string) string {
	return fmt.Sprintf("threadpost:idempotency:%s:%s", caller, key)
}
