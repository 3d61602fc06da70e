package domain

// RecordID identifies a record in the queue. Ids start at 1 and are never
// reused once committed. The zero value means no record was ever written.
type RecordID uint32

// NoRecord is the counter value of an empty queue.
const NoRecord RecordID = 0

// MaxRecordID is the largest id whose derived key still fits the store key
// limit ("record" plus nine digits).
const MaxRecordID RecordID = 999_999_999

// DefaultRecordSize is the payload size of the reference telemetry record.
const DefaultRecordSize = 860

// Record is an opaque fixed-size payload. The size is fixed per deployment;
// the queue rejects records of any other length.
type Record []byte

// Next returns the id following id.
func (id RecordID) Next() RecordID {
	return id + 1
}
