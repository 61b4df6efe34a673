package migrate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/triviapot/internal/migrate"
)

func TestLoad_Embedded(t *testing.T) {
	files, err := migrate.Load("")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "0001_schema.sql", files[0].Name)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].Name, files[i].Name)
	}
}

func TestLoad_Dir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.sql"), []byte("SELECT 2;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0003_empty.sql"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o600))

	files, err := migrate.Load(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_a.sql", files[0].Name)
	assert.Equal(t, "SELECT 2;", string(files[1].Data))
}

func TestLoad_MissingDirFallsBack(t *testing.T) {
	files, err := migrate.Load(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Equal(t, "0001_schema.sql", files[0].Name)
}
