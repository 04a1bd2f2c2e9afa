package attachment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, path string) {
	t.Helper()
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cpu", Unit: "nanoseconds"}},
		Sample:     []*profile.Sample{{Value: []int64{42}}},
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, prof.Write(f))
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()

	textFile := filepath.Join(dir, "output.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("hello"), 0644))

	pngFile := filepath.Join(dir, "screenshot.unknownext")
	require.NoError(t, os.WriteFile(pngFile, []byte("\x89PNG\r\n\x1a\n0000"), 0644))

	profFile := filepath.Join(dir, "cpu.pb.gz")
	writeProfile(t, profFile)

	brokenProf := filepath.Join(dir, "broken.pprof")
	require.NoError(t, os.WriteFile(brokenProf, []byte("not a profile"), 0644))

	missing := filepath.Join(dir, "missing.log")

	refs := Collect(zerolog.Nop(), []string{
		textFile,
		pngFile,
		profFile,
		brokenProf,
		missing,
		filepath.Join(dir, "trace.zip") + "=application/zip",
		"  ",
	})
	require.Len(t, refs, 6)

	want := []struct {
		path        string
		contentType string
	}{
		{textFile, "text/plain; charset=utf-8"},
		{pngFile, "image/png"},
		{profFile, ContentTypePprof},
		{brokenProf, "text/plain; charset=utf-8"},
		{missing, ContentTypeOctetStream},
		{filepath.Join(dir, "trace.zip"), "application/zip"},
	}
	seen := map[string]bool{}
	for i, w := range want {
		require.Equal(t, w.path, refs[i].Path)
		require.Equal(t, w.contentType, refs[i].ContentType, refs[i].Path)
		_, err := uuid.Parse(refs[i].ID)
		require.NoError(t, err)
		require.False(t, seen[refs[i].ID])
		seen[refs[i].ID] = true
	}

	require.Equal(t, []string{refs[0].ID, refs[1].ID}, IDs(refs[:2]))
}

func TestSplitSpec(t *testing.T) {
	tests := []struct {
		in       string
		wantPath string
		wantType string
	}{
		{"a/b.txt", "a/b.txt", ""},
		{"a/b.txt=text/csv", "a/b.txt", "text/csv"},
		{"weird=name.txt", "weird=name.txt", ""},
		{"=text/plain", "=text/plain", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			path, ct := splitSpec(tt.in)
			require.Equal(t, tt.wantPath, path)
			require.Equal(t, tt.wantType, ct)
		})
	}
}
