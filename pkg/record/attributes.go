package record

import (
	"sort"
	"strings"
)

// TopLevelAttributes are copied verbatim from a media document.
var TopLevelAttributes = []string{
	"upload_date",
	"is_featured",
	FieldHeight,
	FieldWidth,
	"description",
	"tags",
	"permalink",
	FieldResponsiveURL,
	FieldID,
	"is_video",
	"grid_name",
	FieldOwner,
	"site_id",
}

// nestedAttributes lifts values out of nested objects under a flat name.
var nestedAttributes = map[string][2]string{
	"iso":             {"image_meta", "iso"},
	"model":           {"image_meta", "model"},
	"make":            {"image_meta", "make"},
	"preset":          {"preset", "short_name"},
	"preset_bg_color": {"preset", "color"},
}

// Attributes returns the flat attribute view of a media document: the
// top-level fields, a handful of nested ones, and the derived "camera".
// Missing attributes are present with a nil value.
func Attributes(d Document) map[string]any {
	attrs := make(map[string]any, len(TopLevelAttributes)+len(nestedAttributes)+1)
	for _, name := range TopLevelAttributes {
		attrs[name] = d[name]
	}
	for name, path := range nestedAttributes {
		v, _ := d.Path(path[0], path[1])
		attrs[name] = v
	}

	camera := strings.TrimSpace(stringify(attrs["make"]) + " " + stringify(attrs["model"]))
	if camera != "" {
		attrs["camera"] = camera
	} else {
		attrs["camera"] = nil
	}
	return attrs
}

// Bucket is one row of an attribute histogram.
type Bucket struct {
	Value string
	Count int
	Share float64
}

// Frequency counts how often each value of attr occurs across the store.
// Records where the attribute is missing are ignored. Buckets are sorted by
// descending count with ties broken by value. Share is the bucket's
// fraction of the counted records.
func Frequency(s *Store, attr string) []Bucket {
	counts := make(map[string]int)
	total := 0
	s.Each(func(r Record) bool {
		v := Attributes(r.Doc)[attr]
		if v == nil {
			return true
		}
		counts[stringify(v)]++
		total++
		return true
	})

	buckets := make([]Bucket, 0, len(counts))
	for value, count := range counts {
		buckets = append(buckets, Bucket{
			Value: value,
			Count: count,
			Share: float64(count) / float64(total),
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Value < buckets[j].Value
	})
	return buckets
}

// Reverse flips a histogram into ascending order.
func Reverse(buckets []Bucket) []Bucket {
	out := make([]Bucket, len(buckets))
	for i, b := range buckets {
		out[len(buckets)-1-i] = b
	}
	return out
}
