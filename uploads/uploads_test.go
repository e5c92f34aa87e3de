package uploads

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave_StoresUnderGeneratedName(t *testing.T) {
	store := NewStore([]string{"csv"}, 1)
	dir := t.TempDir()

	f, err := store.Save(dir, "My Data (final).csv", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)

	assert.Equal(t, "csv", f.Ext)
	assert.Equal(t, int64(8), f.Size)
	assert.Equal(t, "My Data (final).csv", f.OriginalName)
	assert.Equal(t, "My_Data__final_.csv", f.SafeName)
	assert.True(t, strings.HasSuffix(f.Path, f.ID+".csv"))

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestSave_RejectsDisallowedExtension(t *testing.T) {
	store := NewStore([]string{"csv", "pdf"}, 1)
	dir := t.TempDir()

	_, err := store.Save(dir, "script.sh", strings.NewReader("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrTypeNotAllowed)

	_, err = store.Save(dir, "noextension", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrTypeNotAllowed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads must leave no files behind")
}

func TestSave_ExtensionCaseInsensitive(t *testing.T) {
	store := NewStore([]string{"csv"}, 1)

	f, err := store.Save(t.TempDir(), "DATA.CSV", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "csv", f.Ext)
}

func TestSave_RejectsEmptyFile(t *testing.T) {
	store := NewStore([]string{"txt"}, 1)
	dir := t.TempDir()

	_, err := store.Save(dir, "empty.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_RejectsOversizedFile(t *testing.T) {
	store := NewStore([]string{"txt"}, 1) // 1 MB cap
	dir := t.TempDir()

	big := strings.NewReader(strings.Repeat("x", 1<<20+1))
	_, err := store.Save(dir, "big.txt", big)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_ExactlyAtLimit(t *testing.T) {
	store := NewStore([]string{"txt"}, 1)

	f, err := store.Save(t.TempDir(), "fit.txt", strings.NewReader(strings.Repeat("x", 1<<20)))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), f.Size)
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"data set (v2).csv", "data_set__v2_.csv"},
		{"résumé.txt", "r_sum_.txt"},
		{"..", "file"},
		{"", "file"},
		{"dir/with slash.csv", "with_slash.csv"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Sanitize(tc.in), "input %q", tc.in)
	}
}
