package record

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDoc(t *testing.T, raw string) Document {
	t.Helper()
	var d Document
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&d))
	return d
}

func TestDocument_Accessors(t *testing.T) {
	d := decodeDoc(t, `{
		"_id": "abc",
		"perma_subdomain": "slowed",
		"responsive_url": "im.example.com/aws/abc.jpg",
		"width": 2048,
		"site_id": 113950,
		"is_video": false,
		"image_meta": {"make": "FUJIFILM", "model": "X100S"}
	}`)

	assert.Equal(t, "abc", d.ID())
	assert.Equal(t, "slowed", d.Owner())
	assert.Equal(t, "im.example.com/aws/abc.jpg", d.ResponsiveURL())

	w, ok := d.Width()
	assert.True(t, ok)
	assert.Equal(t, 2048, w)

	assert.Equal(t, "113950", d.String("site_id"))

	cameraMake, ok := d.Path("image_meta", "make")
	assert.True(t, ok)
	assert.Equal(t, "FUJIFILM", cameraMake)

	_, ok = d.Path("image_meta", "lens")
	assert.False(t, ok)
	_, ok = d.Path("width", "nested")
	assert.False(t, ok)

	assert.Equal(t, "", d.String("missing"))
	_, ok = d.Int("missing")
	assert.False(t, ok)
}

func TestNewBatch_KeysAndSkips(t *testing.T) {
	docs := []Document{
		{"_id": "a", "v": 1},
		{"v": 2},
		{"_id": json.Number("42"), "v": 3},
	}

	batch, skipped := NewBatch(3, docs, FieldID)
	assert.Equal(t, 3, batch.Page)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "a", batch.Records[0].Key)
	assert.Equal(t, "42", batch.Records[1].Key)
	assert.Len(t, skipped, 1)
}

func TestAttributes_Flattening(t *testing.T) {
	d := decodeDoc(t, `{
		"_id": "abc",
		"image_meta": {"make": "Canon", "model": "EOS 5D", "iso": 400},
		"preset": {"short_name": "A6", "color": "#ffffff"}
	}`)

	attrs := Attributes(d)
	assert.Equal(t, "abc", attrs["_id"])
	assert.Equal(t, "Canon", attrs["make"])
	assert.Equal(t, "EOS 5D", attrs["model"])
	assert.Equal(t, json.Number("400"), attrs["iso"])
	assert.Equal(t, "A6", attrs["preset"])
	assert.Equal(t, "#ffffff", attrs["preset_bg_color"])
	assert.Equal(t, "Canon EOS 5D", attrs["camera"])

	_, present := attrs["description"]
	assert.True(t, present, "missing top-level attributes are present as nil")
	assert.Nil(t, attrs["description"])
}

func TestAttributes_NoCamera(t *testing.T) {
	attrs := Attributes(Document{"_id": "x"})
	assert.Nil(t, attrs["camera"])
	assert.Nil(t, attrs["preset"])
}
