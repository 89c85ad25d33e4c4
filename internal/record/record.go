// Package record holds the document payloads read from the source store and
// the helpers that prepare them for transmission.
package record

import (
	"fmt"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// DefaultIDField is the store-internal identifier stripped before dispatch.
const DefaultIDField = "_id"

// Record is an opaque document. No schema is enforced.
type Record map[string]any

// Document pairs a record with the string form of its identifier. Key is
// captured before sanitization and is never transmitted.
type Document struct {
	Key    string
	Record Record
}

// Sanitize removes field from r in place and returns r. Removing an absent
// field is a no-op, so Sanitize is idempotent.
func Sanitize(r Record, field string) Record {
	if r == nil {
		return nil
	}
	delete(r, field)
	return r
}

// KeyOf returns the string form of the identifier stored under field, or ""
// when the record has none.
func KeyOf(r Record, field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex()
	case string:
		return id
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// Encode renders r as compact JSON, the request body sent to the endpoint.
func Encode(r Record) ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// EncodeIndent renders records as a JSON array indented with two spaces.
func EncodeIndent(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.MarshalIndent(records, "", "  ")
}
