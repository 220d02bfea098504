package models

// Record is a transport-agnostic view of a consumed Kafka record.
type Record struct {
	Key   []byte
	Value []byte
	Topic string
}
