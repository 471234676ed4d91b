package blockage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCell(t *testing.T) {
	routes := ParseCell("2 (5, 6) 1 (7)\n1 (8)")
	require.Len(t, routes, 2)
	assert.Equal(t, []string{"P5", "P6"}, routes[0].Full)
	assert.Equal(t, []string{"P7"}, routes[0].Partial)
	assert.Equal(t, []string{"P8"}, routes[1].Full)
	assert.Empty(t, routes[1].Partial)
}

func TestParseCell_NA(t *testing.T) {
	for _, in := range []string{"--NA--", " -- na -- ", "NA", ""} {
		assert.Nil(t, ParseCell(in), "cell %q", in)
	}
}

func TestParseCell_EmptyLists(t *testing.T) {
	routes := ParseCell("0 ()")
	require.Len(t, routes, 1)
	assert.Empty(t, routes[0].Full)
	assert.Equal(t, 0.0, routes[0].Cost())
}

func TestScore(t *testing.T) {
	routes := []Route{
		{Full: []string{"P1"}, Partial: []string{"P2"}},
		{Full: []string{"P1", "P2"}},
	}
	s, ok := Score(routes)
	require.True(t, ok)
	assert.InDelta(t, 1.75, s, 1e-9)

	_, ok = Score(nil)
	assert.False(t, ok)
}

func TestParseCSV(t *testing.T) {
	data := "Incoming,P1-3,P2-4,P5\n" +
		"MDN DN Joint,0 (),\"1 (5)\n2 (6,7) 1 (8)\",--NA--\n" +
		"HIJ Freight,,,\n"
	m, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"MDN DN Joint", "HIJ Freight"}, m.Lines())
	assert.Len(t, m.Routes("MDN DN Joint", "P1-3"), 1)
	assert.Len(t, m.Routes("MDN DN Joint", "P2-4"), 2)
	assert.Nil(t, m.Routes("MDN DN Joint", "P5"))
	assert.True(t, m.HasLine("HIJ Freight"))
	assert.Empty(t, m.Groups("HIJ Freight"))
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.yaml")
	doc := `
MDN DN Joint:
  P1-3:
    - full: []
      partial: []
  P2-4:
    - full: [P5]
      partial: []
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	s, ok := Score(m.Routes("MDN DN Joint", "P2-4"))
	require.True(t, ok)
	assert.Equal(t, 1.0, s)
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
