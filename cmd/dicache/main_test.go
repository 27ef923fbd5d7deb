package main

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/dicache/rdi"
	"github.com/IvanBrykalov/dicache/search"
)

// The test binary itself is a convenient ELF input on ELF platforms.
func testELF(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := elf.Open(exe)
	if err != nil {
		t.Skipf("test binary is not ELF: %v", err)
	}
	_ = f.Close()
	return exe
}

func TestConvertELF_WritesCompressedTable(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "self.rdi")
	require.NoError(t, convertELF(testELF(t), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var r rdi.Reader
	st, tbl := r.Parse(data)
	require.Equal(t, rdi.StatusGood, st)
	if tbl.DecompressedSize() > uint64(len(data)) {
		raw, err := r.Decompress(tbl, data)
		require.NoError(t, err)
		st, tbl = r.Parse(raw)
		require.Equal(t, rdi.StatusGood, st)
	}
	require.Greater(t, tbl.Count(rdi.SectionProcedures), 0)
	_, ok := tbl.FindName(rdi.NameMapProcedures, "runtime.main")
	require.True(t, ok)
}

func TestConvertELF_NotELF(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(src, []byte("not an object file"), 0o644))
	require.Error(t, convertELF(src, filepath.Join(dir, "plain.rdi")))
	_, err := os.Stat(filepath.Join(dir, "plain.rdi"))
	require.True(t, os.IsNotExist(err))
}

func TestHighlight(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[ma]x_[i]n", highlight("max_in", []search.Range{{Lo: 0, Hi: 2}, {Lo: 4, Hi: 5}}))
	require.Equal(t, "plain", highlight("plain", nil))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, p := range []string{"a/x.so", "a/b/y.so", "a/b/z.txt"} {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, nil, 0o644))
	}
	got, err := expand([]string{filepath.Join(dir, "**", "*.so"), filepath.Join(dir, "a", "x.so")})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		filepath.Join(dir, "a", "x.so"),
		filepath.Join(dir, "a", "b", "y.so"),
	}, got)

	_, err = expand([]string{"[bad"})
	require.Error(t, err)
}

func TestParseSection(t *testing.T) {
	t.Parallel()

	s, err := parseSection("udts")
	require.NoError(t, err)
	require.Equal(t, rdi.SectionUDTs, s)
	_, err = parseSection("nope")
	require.Error(t, err)
}
