package store

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// KeyRecord is the wire form of a pending connection key stored in a
// shared Storage.
type KeyRecord struct {
	Token     string    `msgpack:"t"`
	IssuedAt  time.Time `msgpack:"i"`
	ExpiresAt time.Time `msgpack:"e"`
}

// EncodeKeyRecord serializes a key record for storage.
func EncodeKeyRecord(rec KeyRecord) ([]byte, error) {
	return msgpack.Marshal(rec)
}

// DecodeKeyRecord deserializes a key record read from storage.
func DecodeKeyRecord(data []byte) (KeyRecord, error) {
	var rec KeyRecord
	err := msgpack.Unmarshal(data, &rec)
	return rec, err
}
