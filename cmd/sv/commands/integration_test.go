package commands

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"selfvault/pkg/app"
	"selfvault/pkg/core"
	"selfvault/pkg/meta"
	"selfvault/pkg/storage/memory"
	"selfvault/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupIntegrationEnv wires a memory chunk store and an in-memory catalogue
// into the global SV the commands read.
func setupIntegrationEnv(t *testing.T) (*app.App, *memory.Store, string) {
	tmpDir := t.TempDir()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(&meta.Entry{}))

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := memory.NewStore()
	application := &app.App{
		Store: store,
		Repo:  meta.NewRepository(metaDB),
		Params: stream.Params{
			MaxChunkSize:           1024,
			MaxIncludableDataSize:  16,
			MaxIncludableChunkSize: 8,
		},
		Type:     core.DefaultSelfEncryptionType,
		Logger:   log,
		RepoPath: filepath.Join(tmpDir, ".sv"),
	}
	SV = application
	t.Cleanup(func() { SV = nil })

	return application, store, tmpDir
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return data
}

func TestIntegration_PutGetWriteRm(t *testing.T) {
	application, store, tmpDir := setupIntegrationEnv(t)
	ctx := context.Background()

	src := filepath.Join(tmpDir, "data.bin")
	original := writeRandomFile(t, src, 3000)

	// sv put data.bin
	require.NoError(t, putCmd.RunE(putCmd, []string{src}))
	name := filepath.ToSlash(filepath.Clean(src))

	dm, revision, err := application.Repo.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revision)
	assert.Equal(t, int64(3000), dm.Size)
	assert.Equal(t, 3, dm.ChunkCount())
	assert.Equal(t, 3, store.Len())

	// sv get data.bin -o restored.bin
	restored := filepath.Join(tmpDir, "restored.bin")
	getOutput = restored
	t.Cleanup(func() { getOutput = "" })
	require.NoError(t, getCmd.RunE(getCmd, []string{name}))
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, original, got)

	// sv write data.bin --offset 100 patch.bin
	patch := filepath.Join(tmpDir, "patch.bin")
	require.NoError(t, os.WriteFile(patch, []byte("PATCHED"), 0644))
	writeOffset = 100
	t.Cleanup(func() { writeOffset = 0 })
	require.NoError(t, writeCmd.RunE(writeCmd, []string{name, patch}))

	expected := append([]byte(nil), original...)
	copy(expected[100:], "PATCHED")

	var out bytes.Buffer
	getOutput = ""
	getCmd.SetOut(&out)
	t.Cleanup(func() { getCmd.SetOut(nil) })
	require.NoError(t, getCmd.RunE(getCmd, []string{name}))
	assert.Equal(t, expected, out.Bytes())

	_, revision, err = application.Repo.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(2), revision)
	assert.Equal(t, 3, store.Len(), "replaced chunks must be released")

	// sv rm data.bin
	require.NoError(t, rmCmd.RunE(rmCmd, []string{name}))
	_, _, err = application.Repo.Load(ctx, name)
	assert.ErrorIs(t, err, meta.ErrEntryNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestIntegration_PutOverwriteReleasesOldChunks(t *testing.T) {
	application, store, tmpDir := setupIntegrationEnv(t)
	ctx := context.Background()

	src := filepath.Join(tmpDir, "data.bin")
	writeRandomFile(t, src, 3000)
	require.NoError(t, putCmd.RunE(putCmd, []string{src}))
	require.Equal(t, 3, store.Len())

	second := writeRandomFile(t, src, 2500)
	require.NoError(t, putCmd.RunE(putCmd, []string{src}))

	dm, revision, err := application.Repo.Load(ctx, filepath.ToSlash(filepath.Clean(src)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), revision)
	assert.Equal(t, int64(len(second)), dm.Size)
	assert.Equal(t, 3, store.Len())
}

func TestIntegration_PutDirectoryHonoursIgnore(t *testing.T) {
	application, _, tmpDir := setupIntegrationEnv(t)
	ctx := context.Background()

	dir := filepath.Join(tmpDir, "dataset")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	writeRandomFile(t, filepath.Join(dir, "a.bin"), 2048)
	writeRandomFile(t, filepath.Join(dir, "sub", "b.bin"), 10)
	writeRandomFile(t, filepath.Join(dir, "debug.log"), 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".svignore"), []byte("*.log\n"), 0644))

	require.NoError(t, putCmd.RunE(putCmd, []string{dir}))

	entries, err := application.Repo.List(ctx)
	require.NoError(t, err)

	base := filepath.ToSlash(filepath.Clean(dir))
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{base + "/a.bin", base + "/sub/b.bin"}, names)

	var out bytes.Buffer
	infoCmd.SetOut(&out)
	t.Cleanup(func() { infoCmd.SetOut(nil) })
	require.NoError(t, infoCmd.RunE(infoCmd, []string{base + "/sub/b.bin"}))
	assert.Contains(t, out.String(), "Revision: 1")
}

func TestIntegration_GetMissing(t *testing.T) {
	setupIntegrationEnv(t)
	err := getCmd.RunE(getCmd, []string{"nope"})
	assert.ErrorIs(t, err, meta.ErrEntryNotFound)
}
