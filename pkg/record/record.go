// Package record holds the harvested data model: documents keyed by a
// stable identifier, the batches workers hand to the aggregator, and the
// deduplicated store they are merged into.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Field names of the media documents returned by the grid API.
const (
	FieldID            = "_id"
	FieldOwner         = "perma_subdomain"
	FieldResponsiveURL = "responsive_url"
	FieldWidth         = "width"
	FieldHeight        = "height"
)

// Document is one record payload as returned by the remote API. Numbers are
// kept as json.Number so identifiers survive a load/persist round trip
// byte for byte.
type Document map[string]any

// Record is a document plus the key it is deduplicated under.
type Record struct {
	Key string
	Doc Document
}

// Batch is the set of records produced by one page fetch.
type Batch struct {
	Page    int
	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }

// NewBatch keys every document by keyField. Documents without a usable key
// are returned separately so callers can report them.
func NewBatch(page int, docs []Document, keyField string) (Batch, []Document) {
	batch := Batch{Page: page, Records: make([]Record, 0, len(docs))}
	var skipped []Document
	for _, doc := range docs {
		key := doc.String(keyField)
		if key == "" {
			skipped = append(skipped, doc)
			continue
		}
		batch.Records = append(batch.Records, Record{Key: key, Doc: doc})
	}
	return batch, skipped
}

// String returns a field rendered as a string. Numbers are formatted
// without exponent; missing and null fields yield "".
func (d Document) String(field string) string {
	return stringify(d[field])
}

// Int returns a numeric field as an int.
func (d Document) Int(field string) (int, bool) {
	switch v := d[field].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Path walks nested objects and returns the value at the end of fields.
func (d Document) Path(fields ...string) (any, bool) {
	var cur any = map[string]any(d)
	for _, f := range fields {
		var m map[string]any
		switch obj := cur.(type) {
		case map[string]any:
			m = obj
		case Document:
			m = obj
		default:
			return nil, false
		}
		v, ok := m[f]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ID returns the record identifier.
func (d Document) ID() string { return d.String(FieldID) }

// Owner returns the subdomain of the grid the record belongs to.
func (d Document) Owner() string { return d.String(FieldOwner) }

// ResponsiveURL returns the host-relative image address, without scheme.
func (d Document) ResponsiveURL() string { return d.String(FieldResponsiveURL) }

// Width returns the original image width in pixels.
func (d Document) Width() (int, bool) { return d.Int(FieldWidth) }

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
