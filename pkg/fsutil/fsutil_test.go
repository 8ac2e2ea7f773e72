package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *OwnerConfig
		wantErr bool
	}{
		{name: "empty", in: "", want: nil},
		{name: "valid", in: "1000:1000", want: &OwnerConfig{UID: 1000, GID: 1000}},
		{name: "missing gid", in: "1000", wantErr: true},
		{name: "too many parts", in: "1:2:3", wantErr: true},
		{name: "non numeric", in: "root:root", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tables.yaml")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644, nil))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o640, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}
