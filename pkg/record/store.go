package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Store is the deduplicated key -> document map. It is not safe for
// concurrent use; the aggregator owns it for the duration of a run.
//
// A loaded store may hold values that are not JSON objects. They are kept
// as opaque payloads: they count towards Len, appear in Keys and are written
// back unchanged, but Get and Each only see documents.
type Store struct {
	docs   map[string]Document
	opaque map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[string]Document), opaque: make(map[string]any)}
}

// Merge writes every record of the batch into the store, replacing any
// document already stored under the same key. It returns how many keys
// were new.
func (s *Store) Merge(b Batch) int {
	added := 0
	for _, r := range b.Records {
		_, exists := s.docs[r.Key]
		if _, raw := s.opaque[r.Key]; raw {
			delete(s.opaque, r.Key)
			exists = true
		}
		if !exists {
			added++
		}
		s.docs[r.Key] = r.Doc
	}
	return added
}

// Len returns the number of stored keys.
func (s *Store) Len() int { return len(s.docs) + len(s.opaque) }

// Get returns the document stored under key.
func (s *Store) Get(key string) (Document, bool) {
	d, ok := s.docs[key]
	return d, ok
}

// Value returns the value stored under key, document or opaque payload.
func (s *Store) Value(key string) (any, bool) {
	if d, ok := s.docs[key]; ok {
		return d, true
	}
	v, ok := s.opaque[key]
	return v, ok
}

// Keys returns all keys, opaque payloads included, in ascending order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.Len())
	for k := range s.docs {
		keys = append(keys, k)
	}
	for k := range s.opaque {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Each calls fn for every document in key order until fn returns false.
// Opaque payloads are skipped.
func (s *Store) Each(fn func(Record) bool) {
	for _, k := range s.Keys() {
		doc, ok := s.docs[k]
		if !ok {
			continue
		}
		if !fn(Record{Key: k, Doc: doc}) {
			return
		}
	}
}

// MarshalJSON renders the store as a single pretty-printed JSON object.
func (s *Store) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	all := make(map[string]any, s.Len())
	for k, v := range s.opaque {
		all[k] = v
	}
	for k, d := range s.docs {
		all[k] = d
	}
	if err := enc.Encode(all); err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON replaces the store contents with a decoded JSON object.
// Object values become documents; any other value is kept as an opaque
// payload.
func (s *Store) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}

	docs := make(map[string]Document, len(raw))
	opaque := make(map[string]any)
	for k, v := range raw {
		trimmed := bytes.TrimSpace(v)
		if len(trimmed) == 0 {
			opaque[k] = nil
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if trimmed[0] == '{' {
			var doc Document
			if err := dec.Decode(&doc); err != nil {
				return fmt.Errorf("decode store key %q: %w", k, err)
			}
			docs[k] = doc
			continue
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("decode store key %q: %w", k, err)
		}
		opaque[k] = val
	}
	s.docs = docs
	s.opaque = opaque
	return nil
}
