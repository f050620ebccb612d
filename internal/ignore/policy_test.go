package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/config"
)

func newPolicy(t *testing.T, base string) *Policy {
	t.Helper()
	p, err := NewPolicy(base, config.NewConfig())
	require.NoError(t, err)
	return p
}

func TestPolicy_DefaultPatterns(t *testing.T) {
	base := t.TempDir()
	p := newPolicy(t, base)

	tests := []struct {
		rel  string
		want bool
	}{
		{"main.go", false},
		{"pkg/util/strings.go", false},
		{"node_modules/left-pad/index.js", true},
		{".git/config", true},
		{".amanidx/index.db", true},
		{"web/app.min.js", true},
		{"lib/x.pyc", true},
		{"go.sum", true},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsFileIgnored(filepath.Join(base, tt.rel)))
		})
	}
}

func TestPolicy_DirectoryExclusion(t *testing.T) {
	base := t.TempDir()
	p := newPolicy(t, base)

	assert.True(t, p.IsDirIgnored(filepath.Join(base, "node_modules")))
	assert.True(t, p.IsDirIgnored(filepath.Join(base, "sub", "vendor")))
	assert.False(t, p.IsDirIgnored(filepath.Join(base, "internal")))
	assert.False(t, p.IsDirIgnored(base))
}

func TestPolicy_RespectsNestedGitignore(t *testing.T) {
	// Given: root and nested .gitignore files
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, ".gitignore"), []byte("*.log\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "sub", ".gitignore"), []byte("tmp/\n"), 0644))
	p := newPolicy(t, base)

	// Then
	assert.True(t, p.IsFileIgnored(filepath.Join(base, "debug.log")))
	assert.True(t, p.IsFileIgnored(filepath.Join(base, "sub", "deep", "x.log")))
	assert.True(t, p.IsFileIgnored(filepath.Join(base, "sub", "tmp", "a.go")))
	assert.False(t, p.IsFileIgnored(filepath.Join(base, "tmp", "a.go")))
	assert.False(t, p.IsFileIgnored(filepath.Join(base, "sub", "a.go")))
}

func TestPolicy_InvalidatePicksUpNewGitignore(t *testing.T) {
	base := t.TempDir()
	p := newPolicy(t, base)
	target := filepath.Join(base, "secret.txt")
	assert.False(t, p.IsFileIgnored(target))

	require.NoError(t, os.WriteFile(filepath.Join(base, ".gitignore"), []byte("secret.txt\n"), 0644))
	assert.False(t, p.IsFileIgnored(target), "cached matcher still in use")

	p.Invalidate()
	assert.True(t, p.IsFileIgnored(target))
}

func TestPolicy_OutsideBaseMatchesByName(t *testing.T) {
	p := newPolicy(t, t.TempDir())

	assert.True(t, p.IsFileIgnored("/usr/lib/go/x.pyc"))
	assert.False(t, p.IsFileIgnored("/usr/lib/go/x.go"))
}

func TestPolicy_IsTooLarge(t *testing.T) {
	cfg := config.NewConfig()
	cfg.FileTypes.MaxFileSize = 100
	p, err := NewPolicy(t.TempDir(), cfg)
	require.NoError(t, err)

	assert.False(t, p.IsTooLarge(100))
	assert.True(t, p.IsTooLarge(101))

	cfg.FileTypes.MaxFileSize = 0
	p, err = NewPolicy(t.TempDir(), cfg)
	require.NoError(t, err)
	assert.False(t, p.IsTooLarge(1<<40))
}

func TestIsGitignoreFile(t *testing.T) {
	assert.True(t, IsGitignoreFile("/a/b/.gitignore"))
	assert.False(t, IsGitignoreFile("/a/b/gitignore"))
}
