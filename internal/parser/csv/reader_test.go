package csv

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"mergeflow/internal/batch"
)

func collect(t *testing.T, in string, opt Options, page int) []*batch.Batch {
	t.Helper()
	var out []*batch.Batch
	err := Read(context.Background(), strings.NewReader(in), opt, page, func(b *batch.Batch) error {
		out = append(out, b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestReadPagesWithHeader(t *testing.T) {
	t.Parallel()

	in := "\uFEFFid,Name,Amount\n1,Ada, 10 \n2,,20\n3,Cy,30\n"
	got := collect(t, in, Options{HasHeader: true, TrimSpace: true}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"id", "Name", "Amount"}, got[0].Names())
	assert.Equal(t, [][]any{{"1", "Ada", "10"}, {"2", nil, "20"}}, got[0].Rows)
	assert.Equal(t, [][]any{{"3", "Cy", "30"}}, got[1].Rows)
}

func TestReadNormalizesAndMapsHeaders(t *testing.T) {
	t.Parallel()

	in := "Číslo zakázky;Datum;X\n7;2024-01-01;x\n"
	got := collect(t, in, Options{
		Comma:            ';',
		HasHeader:        true,
		NormalizeHeaders: true,
		HeaderMap:        map[string]string{"X": "Extra Field"},
	}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"cislo_zakazky", "datum", "extra_field"}, got[0].Names())
}

func TestReadHeaderOnlyReportsColumns(t *testing.T) {
	t.Parallel()

	got := collect(t, "a,b\n", Options{HasHeader: true}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a", "b"}, got[0].Names())
	assert.Equal(t, 0, got[0].Len())
}

func TestReadHeaderless(t *testing.T) {
	t.Parallel()

	got := collect(t, "1,2,3\n4,5,6\n", Options{Columns: []string{"x", "y"}}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"x", "y", "col_2"}, got[0].Names())
	assert.Equal(t, 2, got[0].Len())
}

func TestReadLatin1(t *testing.T) {
	t.Parallel()

	raw, err := charmap.ISO8859_1.NewEncoder().String("name\nJosé\n")
	require.NoError(t, err)
	got := collect(t, raw, Options{HasHeader: true, Encoding: "latin1"}, 0)
	assert.Equal(t, "José", got[0].Rows[0][0])
}

func TestReadBadRows(t *testing.T) {
	t.Parallel()

	in := "a,b\n1,2\n3\n4,5\n"
	err := Read(context.Background(), strings.NewReader(in), Options{HasHeader: true}, 0, func(*batch.Batch) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")

	var bad []int
	got := collect(t, in, Options{HasHeader: true, OnBadRow: func(line int, _ error) { bad = append(bad, line) }}, 0)
	assert.Equal(t, []int{3}, bad)
	assert.Equal(t, 2, got[0].Len())
}

func TestReadScrub(t *testing.T) {
	t.Parallel()

	in := "name,city\n\"Acme \"v likvidaci\"\",Brno\n"
	got := collect(t, in, Options{
		HasHeader: true,
		Scrub:     []Replacement{{From: ` "v likvidaci""`, To: ` (v likvidaci)"`}},
	}, 0)
	require.Equal(t, 1, got[0].Len())
	assert.Equal(t, "Acme (v likvidaci)", got[0].Rows[0][0])
}

func TestLookupEncoding(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "UTF-8", "latin1", "windows-1250", "cp1252", "iso-8859-2"} {
		_, err := LookupEncoding(name)
		assert.NoError(t, err, name)
	}
	_, err := LookupEncoding("klingon")
	assert.Error(t, err)
}
