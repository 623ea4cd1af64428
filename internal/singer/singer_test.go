package singer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vocalis/internal/reload"
)

func installBank(t *testing.T, root, id, name string, samples int) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, WriteMeta(dir, Meta{Name: name, Author: "tester", Phonemizer: "syllable"}))
	for i := 0; i < samples; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "s"+string(rune('a'+i))+".wav"), []byte("RIFF"), 0o644))
	}
	return dir
}

func TestLoaderReadsMetaAndCountsSamples(t *testing.T) {
	dir := installBank(t, t.TempDir(), "alto", "Alto", 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	vb, err := Loader{}.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "alto", vb.ID)
	require.Equal(t, "Alto", vb.Meta.Name)
	require.Equal(t, "syllable", vb.Meta.Phonemizer)
	require.Equal(t, 3, vb.Samples)
}

func TestLoaderRejectsBadMeta(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFileName), []byte("name: [unclosed"), 0o644))
	_, err := Loader{}.Load(dir)
	require.ErrorIs(t, err, ErrInvalidMeta)

	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFileName), []byte("author: x\n"), 0o644))
	_, err = Loader{}.Load(dir)
	require.ErrorIs(t, err, ErrInvalidMeta)

	_, err = Loader{}.Load(t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryScanSkipsBrokenBanks(t *testing.T) {
	root := t.TempDir()
	installBank(t, root, "alto", "Alto", 1)
	installBank(t, root, "bass", "Bass", 2)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0o755))

	r := NewRegistry(root)
	err := r.Scan(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"alto", "bass"}, r.IDs())

	vb, ok := r.Get("bass")
	require.True(t, ok)
	require.Equal(t, 2, vb.Samples)
}

func TestRegistryScanMissingRoot(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, r.Scan(context.Background()))
	require.Empty(t, r.IDs())
}

func TestRegistryReload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	dir := installBank(t, root, "alto", "Alto", 1)
	r := NewRegistry(root)
	require.NoError(t, r.Scan(ctx))

	require.NoError(t, WriteMeta(dir, Meta{Name: "Alto v2"}))
	require.NoError(t, r.Reload(ctx, "alto"))
	vb, _ := r.Get("alto")
	require.Equal(t, "Alto v2", vb.Meta.Name)

	// New directories are picked up.
	installBank(t, root, "tenor", "Tenor", 0)
	require.NoError(t, r.Reload(ctx, "tenor"))
	require.Equal(t, []string{"alto", "tenor"}, r.IDs())

	// Malformed metadata is not worth retrying.
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetaFileName), []byte(":::"), 0o644))
	err := r.Reload(ctx, "alto")
	require.ErrorIs(t, err, reload.ErrPermanent)
	require.ErrorIs(t, err, ErrInvalidMeta)

	// A deleted directory drops the singer.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, r.Reload(ctx, "alto"))
	require.Equal(t, []string{"tenor"}, r.IDs())
}

func TestUninstallGuardRollsBack(t *testing.T) {
	root := t.TempDir()
	dir := installBank(t, root, "alto", "Alto", 1)
	inUse := errors.New("used by track 0")
	r := NewRegistry(root, WithGuard(func(id string) error {
		return inUse
	}))
	require.NoError(t, r.Scan(context.Background()))

	err := r.Uninstall("alto")
	require.ErrorIs(t, err, inUse)
	_, ok := r.Get("alto")
	require.True(t, ok, "phase one failure must restore the singer")
	require.DirExists(t, dir)
}

func TestUninstallDeletesFiles(t *testing.T) {
	root := t.TempDir()
	dir := installBank(t, root, "alto", "Alto", 1)
	r := NewRegistry(root)
	require.NoError(t, r.Scan(context.Background()))

	require.NoError(t, r.Uninstall("alto"))
	require.NoDirExists(t, dir)
	require.ErrorIs(t, r.Uninstall("alto"), ErrNotFound)
}

func TestUninstallDeleteFailureIsNotRolledBack(t *testing.T) {
	root := t.TempDir()
	installBank(t, root, "alto", "Alto", 1)
	r := NewRegistry(root)
	require.NoError(t, r.Scan(context.Background()))
	boom := errors.New("disk gone")
	r.remove = func(string) error { return boom }

	err := r.Uninstall("alto")
	require.ErrorIs(t, err, boom)
	_, ok := r.Get("alto")
	require.False(t, ok)
}
