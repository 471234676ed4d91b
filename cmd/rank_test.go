package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaster = `
- TRAIN NO: 12345
  TRAIN NAME: Howrah Express
  LENGTH: Short
  DIRECTION: UP
  ARRIVAL AT KGP: "10:00"
  DEPARTURE FROM KGP: "10:05"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	trains := filepath.Join(dir, "trains.yaml")
	matrix := filepath.Join(dir, "matrix.csv")
	require.NoError(t, os.WriteFile(trains, []byte(testMaster), 0o644))
	require.NoError(t, os.WriteFile(matrix, []byte("Line,P2-4\nKGP-HWH,\"1 (2,4)\"\nHIJ Freight,\n"), 0o644))
	cfg := "station:\n" +
		"  trains_path: " + trains + "\n" +
		"  matrix_path: " + matrix + "\n" +
		"audit:\n  backend: none\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRankCommand(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "rank", "12345", "--line", "KGP-HWH", "--all-free", "-c", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "#"))

	_, err = execute(t, "rank", "00000", "-c", path)
	assert.Error(t, err)
}

func TestLinesCommand(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "lines", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "KGP-HWH")
	assert.Contains(t, out, "HIJ Freight (line agnostic)")
}

func TestTrainsCommand(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "trains", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Howrah Express")
}
