package domain

// DefaultEntrySize is the size in bytes of one flash key-value entry.
const DefaultEntrySize = 32

// Entry costs of a single write.
const (
	// U32Entries is the cost of a scalar value.
	U32Entries = 1

	// NamespaceEntries is the cost of registering a namespace.
	NamespaceEntries = 1

	// blobOverheadEntries covers the blob index entry and the chunk header.
	blobOverheadEntries = 2
)

// BlobEntries returns the number of entries a blob of size bytes occupies.
func BlobEntries(size, entrySize int) int {
	if entrySize <= 0 {
		entrySize = DefaultEntrySize
	}
	return blobOverheadEntries + (size+entrySize-1)/entrySize
}

// StoreStats is the entry accounting of one partition.
type StoreStats struct {
	UsedEntries    int `json:"used_entries"`
	FreeEntries    int `json:"free_entries"`
	TotalEntries   int `json:"total_entries"`
	NamespaceCount int `json:"namespace_count"`
}

// UsedFraction returns used/total, or 0 for an empty partition.
func (s StoreStats) UsedFraction() float64 {
	if s.TotalEntries == 0 {
		return 0
	}
	return float64(s.UsedEntries) / float64(s.TotalEntries)
}
