package textutil

import (
	"sort"
	"strings"
)

// MaxMetadataKeys mirrors the per-object metadata key limit of card gateways.
const MaxMetadataKeys = 50

// NormalizeMetadata trims keys and values and drops entries where either is empty. When more than
// MaxMetadataKeys remain, the lexically smallest keys are kept.
func NormalizeMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	if len(result) > MaxMetadataKeys {
		keys := make([]string, 0, len(result))
		for key := range result {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys[MaxMetadataKeys:] {
			delete(result, key)
		}
	}
	return result
}
