package dataset

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
)

// FieldType is the inferred scalar type of a dataset field.
type FieldType string

const (
	FieldNumber  FieldType = "number"
	FieldString  FieldType = "string"
	FieldBoolean FieldType = "boolean"
	FieldNull    FieldType = "null"
)

// Record is a single row of a dataset: field name to scalar value
// (number, string, boolean, or nil).
type Record map[string]any

// Schema maps observed field names to their inferred types. A schema is
// derived once when the dataset is constructed and never re-inferred.
type Schema map[string]FieldType

// Dataset is an ordered collection of records plus the fixed schema
// observed across them.
type Dataset struct {
	Records []Record
	Schema  Schema
}

// New builds a dataset from records, deriving the schema in one pass.
func New(records []Record) Dataset {
	return Dataset{
		Records: records,
		Schema:  DeriveSchema(records),
	}
}

// Len returns the number of records.
func (d Dataset) Len() int {
	return len(d.Records)
}

// DeriveSchema infers a field type per observed field name. The first
// non-nil value seen for a field decides its type; fields that only ever
// hold nil are typed null.
func DeriveSchema(records []Record) Schema {
	schema := make(Schema)
	for _, rec := range records {
		for field, value := range rec {
			if existing, seen := schema[field]; seen && existing != FieldNull {
				continue
			}
			schema[field] = TypeOf(value)
		}
	}
	return schema
}

// TypeOf classifies a scalar value.
func TypeOf(value any) FieldType {
	switch value.(type) {
	case nil:
		return FieldNull
	case bool:
		return FieldBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return FieldNumber
	default:
		return FieldString
	}
}

// idFields are checked in order when resolving a record's entity id.
var idFields = []string{"entity_id", "id", "_id"}

// EntityID resolves a stable identifier for the record. Records carrying
// an explicit id field use it; otherwise the id is a content hash, which
// is stable across repeated runs over the same data.
func (r Record) EntityID() string {
	for _, field := range idFields {
		if v, ok := r[field]; ok && v != nil {
			return scalarString(v)
		}
	}
	return r.contentHash()
}

// Attributes returns a copy of the record without its id fields, for
// attaching to trace evaluations.
func (r Record) Attributes() map[string]any {
	attrs := make(map[string]any, len(r))
	for k, v := range r {
		if k == "id" || k == "_id" {
			continue
		}
		attrs[k] = v
	}
	return attrs
}

// Clone returns a shallow copy of the record. Values are scalars, so a
// shallow copy is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) contentHash() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, scalarString(r[k]))
	}
	return fmt.Sprintf("rec-%016x", h.Sum64())
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
