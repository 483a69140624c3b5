package drift

import (
	"testing"

	"crypto-etl/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shapeOf(paths ...string) Shape {
	s := Shape{}
	for _, p := range paths {
		s[p] = KindString
	}
	return s
}

func TestCheckAddedAndMissing(t *testing.T) {
	d := NewDetector(map[string]Shape{"src": shapeOf("a", "b", "c")})

	ev := d.Check("src", shapeOf("a", "c", "d"), nil)
	require.NotNil(t, ev)
	assert.Equal(t, "src", ev.SourceName)
	assert.Equal(t, []string{"d"}, ev.AddedFields)
	assert.Equal(t, []string{"b"}, ev.MissingFields)
	assert.Empty(t, ev.TypeChangedFields)
	assert.Equal(t, 1.0, ev.ConfidenceScore)
	assert.Equal(t, SeverityMedium, ev.Severity)
	assert.Equal(t, []string{"a", "c", "d"}, d.Baselines["src"].Paths())

	assert.Nil(t, d.Check("src", shapeOf("a", "c", "d"), nil))
}

func TestCheckSeedsWithoutEvent(t *testing.T) {
	d := NewDetector(nil)
	assert.Nil(t, d.Check("src", shapeOf("a"), nil))
	assert.Equal(t, []string{"a"}, d.Baselines["src"].Paths())
}

func TestCheckTypeChange(t *testing.T) {
	d := NewDetector(map[string]Shape{"src": {"price": KindNumber, "id": KindString}})

	ev := d.Check("src", Shape{"price": KindString, "id": KindString}, nil)
	require.NotNil(t, ev)
	assert.Equal(t, []string{"price"}, ev.TypeChangedFields)
	assert.Equal(t, 0.9, ev.ConfidenceScore)
	assert.Equal(t, SeverityMedium, ev.Severity)
}

func TestCheckNullIsNotATypeChange(t *testing.T) {
	d := NewDetector(map[string]Shape{"src": {"price": KindNumber}})

	assert.Nil(t, d.Check("src", Shape{"price": KindNull}, nil))
	assert.Equal(t, KindNumber, d.Baselines["src"]["price"])
}

func TestCheckSeverity(t *testing.T) {
	d := NewDetector(map[string]Shape{"src": shapeOf("id", "name")})
	ev := d.Check("src", shapeOf("name"), []string{"id"})
	require.NotNil(t, ev)
	assert.Equal(t, SeverityHigh, ev.Severity)

	ev = d.Check("src", shapeOf("name", "extra"), []string{"id"})
	require.NotNil(t, ev)
	assert.Equal(t, 0.8, ev.ConfidenceScore)
	assert.Equal(t, SeverityLow, ev.Severity)
}

func TestObserveFlattensAndUnions(t *testing.T) {
	shape := Observe([]schema.Payload{
		{
			"id":     "btc-bitcoin",
			"rank":   float64(1),
			"quotes": map[string]any{"USD": map[string]any{"price": nil}},
			"tags":   []any{"pow"},
		},
		{
			"id":     "eth-ethereum",
			"quotes": map[string]any{"USD": map[string]any{"price": 2280.75}},
			"active": true,
			"meta":   map[string]any{},
		},
	})

	assert.Equal(t, Shape{
		"id":               KindString,
		"rank":             KindNumber,
		"quotes.USD.price": KindNumber,
		"tags":             KindArray,
		"active":           KindBool,
		"meta":             KindObject,
	}, shape)
}
