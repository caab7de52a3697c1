package io

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"a": 1}))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, map[string]int{"a": 1}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteJSONAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSONAtomic(path, []string{"a", "b"}))
	require.NoError(t, WriteJSONAtomic(path, []string{"c"}))

	var got []string
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, []string{"c"}, got)
}

func TestReadJSON_Errors(t *testing.T) {
	dir := t.TempDir()

	var v []string
	err := ReadJSON(filepath.Join(dir, "missing.json"), &v)
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	err = ReadJSON(bad, &v)
	require.Error(t, err)
	assert.False(t, os.IsNotExist(err))
}
