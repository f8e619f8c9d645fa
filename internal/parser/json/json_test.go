package json

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mergeflow/internal/batch"
)

func read(t *testing.T, in string, opt Options, page int) []*batch.Batch {
	t.Helper()
	var out []*batch.Batch
	require.NoError(t, Read(context.Background(), strings.NewReader(in), opt, page, func(b *batch.Batch) error {
		out = append(out, b)
		return nil
	}))
	return out
}

func TestReadArrayKeepsKeyOrder(t *testing.T) {
	t.Parallel()

	got := read(t, `[{"z":1,"a":"x"},{"a":"y","m":true},null]`, Options{}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"z", "a", "m"}, got[0].Names())
	assert.Equal(t, [][]any{
		{json.Number("1"), "x", nil},
		{nil, "y", true},
	}, got[0].Rows)
}

func TestReadNDJSONPaged(t *testing.T) {
	t.Parallel()

	in := "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"
	got := read(t, in, Options{}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Len())
	assert.Equal(t, 1, got[1].Len())
}

func TestReadEnvelopeAndRecordsPath(t *testing.T) {
	t.Parallel()

	in := `{"meta":{"page":1},"items":[{"id":1},{"id":2}]}`
	got := read(t, in, Options{}, 0)
	assert.Equal(t, 2, got[0].Len())

	in = `{"data":{"results":[{"id":"a"}]},"other":[{"x":1}]}`
	got = read(t, in, Options{RecordsPath: "data.results"}, 0)
	require.Equal(t, 1, got[0].Len())
	assert.Equal(t, "a", got[0].Rows[0][0])

	err := Read(context.Background(), strings.NewReader(in), Options{RecordsPath: "data.missing"}, 0, func(*batch.Batch) error { return nil })
	assert.ErrorContains(t, err, "not found")
}

func TestReadSingleObjectNestedValues(t *testing.T) {
	t.Parallel()

	in := `{"id":7,"addr":{"city":"Brno","zip":"60200"},"tags":["a","b"]}`
	got := read(t, in, Options{}, 0)
	assert.Equal(t, []string{"id", "addr", "tags"}, got[0].Names())
	assert.Equal(t, `{"city":"Brno","zip":"60200"}`, got[0].Rows[0][1])
	assert.Equal(t, `["a","b"]`, got[0].Rows[0][2])

	got = read(t, in, Options{Flatten: true}, 0)
	assert.Equal(t, []string{"id", "addr_city", "addr_zip", "tags"}, got[0].Names())
}

func TestReadHeaderMapAndNormalize(t *testing.T) {
	t.Parallel()

	got := read(t, `[{"Identifikační číslo":1,"x":2}]`, Options{
		HeaderMap:        map[string]string{"x": "Extra Value"},
		NormalizeHeaders: true,
	}, 0)
	assert.Equal(t, []string{"identifikacni_cislo", "extra_value"}, got[0].Names())
}

func TestReadEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	got := read(t, "", Options{}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Len())

	for _, in := range []string{`[1,2]`, `"scalar"`, `{"a":`} {
		err := Read(context.Background(), strings.NewReader(in), Options{}, 0, func(*batch.Batch) error { return nil })
		assert.Error(t, err, in)
	}
}
