package cache

import (
	"fmt"
)

func ProductKey(id int64) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

func CustomerKey(id int64) string {
	return fmt.Sprintf("catalog:customer:%d", id)
}

func ProviderModelsKey(provider string) string {
	return fmt.Sprintf("llm:models:%s", provider)
}

// RateLimitKey identifies one fixed window for a caller key.
func RateLimitKey(key string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, windowStart)
}
