package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// CounterKey holds the id of the most recently committed record.
	CounterKey = "lastrecordid"

	// RecordKeyPrefix prefixes every record key.
	RecordKeyPrefix = "record"

	// MaxKeyLength is the longest key a flash key-value store accepts.
	MaxKeyLength = 15

	recordKeyDigits = 5
)

// FormatKey derives the store key for id: "record" followed by the id,
// zero-padded to five digits.
func FormatKey(id RecordID) string {
	return fmt.Sprintf("%s%0*d", RecordKeyPrefix, recordKeyDigits, uint32(id))
}

// ParseKey is the inverse of FormatKey.
func ParseKey(key string) (RecordID, error) {
	digits, ok := strings.CutPrefix(key, RecordKeyPrefix)
	if !ok || len(digits) < recordKeyDigits {
		return 0, fmt.Errorf("parse key %q: not a record key", key)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("parse key %q: not a record key", key)
		}
	}
	// Padding only applies below 10^5; a longer key must not start with zero.
	if len(digits) > recordKeyDigits && digits[0] == '0' {
		return 0, fmt.Errorf("parse key %q: non-canonical padding", key)
	}
	v, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse key %q: %w", key, err)
	}
	return RecordID(v), nil
}

// ValidKey reports whether key is acceptable to a flash key-value store.
func ValidKey(key string) bool {
	return key != "" && len(key) <= MaxKeyLength
}
