package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "trace.db"), false},
		{"new file in subdir", filepath.Join(dir, "sub", "snap.db"), false},
		{"missing nested dirs", filepath.Join(dir, "a", "b", "c.db"), false},
		{"dot dot escape", filepath.Join(dir, "..", "trace.db"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithinDir_SymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(dir, "out")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	assert.Error(t, WithinDir(filepath.Join(link, "snap.db"), dir))
}

func TestWithinAnyDir(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	assert.NoError(t, WithinAnyDir(filepath.Join(b, "x.db"), a, b))
	assert.Error(t, WithinAnyDir("/etc/passwd", a, b))
	assert.Error(t, WithinAnyDir(filepath.Join(a, "x.db")))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unknown"},
		{"trace-2026.db", "trace-2026.db"},
		{"../../etc/passwd", "etc_passwd"},
		{"a b  c", "a_b_c"},
		{"...", "unknown"},
		{"run #1 (fast)", "run_1_fast"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
