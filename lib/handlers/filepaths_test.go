package handlers

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFSWith(t *testing.T, paths ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, p := range paths {
		require.NoError(t, afero.WriteFile(fs, p, []byte("x"), 0o644))
	}
	return fs
}

func TestExtractFilePaths_StripsExistingPathsUnderProject(t *testing.T) {
	fs := memFSWith(t, "/project/main.go")

	text := "Updated /project/main.go with the fix."
	cleaned, paths := extractFilePaths(fs, text, "/project")

	require.Len(t, paths, 1)
	assert.Equal(t, "/project/main.go", paths[0])
	assert.NotContains(t, cleaned, "/project/main.go")
	assert.Contains(t, cleaned, "Updated")
}

func TestExtractFilePaths_IgnoresPathsOutsideProject(t *testing.T) {
	fs := memFSWith(t, "/elsewhere/secret.go")

	text := "See /elsewhere/secret.go for details."
	cleaned, paths := extractFilePaths(fs, text, "/project")

	assert.Empty(t, paths)
	assert.Equal(t, text, cleaned)
}

func TestExtractFilePaths_IgnoresNonexistentPaths(t *testing.T) {
	fs := afero.NewMemMapFs()

	text := "Created /project/ghost.go maybe."
	cleaned, paths := extractFilePaths(fs, text, "/project")

	assert.Empty(t, paths)
	assert.Equal(t, text, cleaned)
}

func TestExtractFilePaths_DedupesRepeatedMentions(t *testing.T) {
	fs := memFSWith(t, "/project/a.go")

	text := "Edited /project/a.go then re-read /project/a.go again."
	cleaned, paths := extractFilePaths(fs, text, "/project")

	require.Len(t, paths, 1)
	assert.NotContains(t, cleaned, "/project/a.go")
}

func TestExtractFilePaths_EmptyProjectPathAcceptsAnyExisting(t *testing.T) {
	fs := memFSWith(t, "/anywhere/file.txt")

	_, paths := extractFilePaths(fs, "wrote /anywhere/file.txt", "")

	require.Len(t, paths, 1)
}

func TestExtractFilePaths_DirectoriesAreNotAttachments(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/project/src", 0o755))

	text := "Look under /project/src for the sources."
	cleaned, paths := extractFilePaths(fs, text, "/project")

	assert.Empty(t, paths)
	assert.Equal(t, text, cleaned)
}
