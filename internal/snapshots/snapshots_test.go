package snapshots

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/cellar/cellartest"
	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/store"
)

type fakeInstaller struct {
	calls    [][]string
	opts     []installer.InstallOptions
	versions map[string]string
	fail     map[string]error
}

func (f *fakeInstaller) Install(_ context.Context, names []string, opts installer.InstallOptions) *installer.InstallReport {
	f.calls = append(f.calls, names)
	f.opts = append(f.opts, opts)
	report := &installer.InstallReport{}
	for _, n := range names {
		r := installer.InstallResult{Name: n, Version: f.versions[n], Outcome: installer.OutcomeInstalled}
		if err := f.fail[n]; err != nil {
			r.Outcome = installer.OutcomeFailed
			r.Err = err
		}
		report.Results = append(report.Results, r)
	}
	return report
}

func newTestManager(t *testing.T) (*Manager, *store.Store, string) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dir := filepath.Join(t.TempDir(), "snapshots")
	return New(db, dir, "keg-test", zerolog.Nop()), db, dir
}

func installed(t *testing.T) []cellar.InstalledPackage {
	t.Helper()
	prefix := t.TempDir()
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1", Receipt: cellartest.Receipt(true, "oniguruma")})
	cellartest.Make(t, prefix, cellartest.Keg{Name: "oniguruma", Version: "6.9.9", Receipt: cellartest.Receipt(false)})
	cellartest.Make(t, prefix, cellartest.Keg{Name: "mytool", Version: "0.3", Receipt: &cellar.Receipt{
		InstalledOnRequest: true,
		Source:             cellar.ReceiptSource{Tap: "user/tools"},
	}})
	pkgs, err := cellar.New(prefix, zerolog.Nop()).ListInstalled()
	require.NoError(t, err)
	require.Len(t, pkgs, 3)
	return pkgs
}

func TestCreateSnapshot(t *testing.T) {
	m, db, dir := newTestManager(t)

	id, err := m.CreateSnapshot(installed(t), "before autoremove")
	require.NoError(t, err)
	require.NotZero(t, id)

	snap, err := db.GetSnapshot(id)
	require.NoError(t, err)
	assert.Equal(t, "before autoremove", snap.Reason)
	assert.Equal(t, 3, snap.PackageCount)
	assert.Equal(t, dir, filepath.Dir(snap.SnapshotPath))

	data, err := loadSnapshotFile(snap.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, "keg-test", data.KegVersion)
	require.Len(t, data.Packages, 3)
	assert.Equal(t, "jq", data.Packages[0].Name)
	assert.True(t, data.Packages[0].WasExplicit)
	assert.Equal(t, []string{"oniguruma"}, data.Packages[0].Dependencies)
	assert.Equal(t, "user/tools", data.Packages[1].Tap)
	assert.False(t, data.Packages[2].WasExplicit)
	assert.Equal(t, cellar.CoreTap, data.Packages[2].Tap)

	pkgs, err := db.GetSnapshotPackages(id)
	require.NoError(t, err)
	assert.Len(t, pkgs, 3)
}

func TestCreateSnapshot_Empty(t *testing.T) {
	m, db, dir := newTestManager(t)

	id, err := m.CreateSnapshot(nil, "before cleanup")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.NoDirExists(t, dir)

	list, err := db.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRestoreSnapshot(t *testing.T) {
	m, _, _ := newTestManager(t)
	id, err := m.CreateSnapshot(installed(t), "before uninstall")
	require.NoError(t, err)

	inst := &fakeInstaller{versions: map[string]string{
		"oniguruma":         "6.9.9",
		"jq":                "1.8.0",
		"user/tools/mytool": "",
	}}
	res, err := m.RestoreSnapshot(context.Background(), id, inst)
	require.NoError(t, err)

	require.Len(t, inst.calls, 2)
	assert.Equal(t, []string{"oniguruma"}, inst.calls[0], "dependencies first")
	assert.True(t, inst.opts[0].AsDependency)
	assert.Equal(t, []string{"jq", "user/tools/mytool"}, inst.calls[1])
	assert.False(t, inst.opts[1].AsDependency)

	assert.Len(t, res.Results, 3)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "jq: restored 1.8.0, snapshot recorded 1.7.1")
}

func TestRestoreSnapshot_Failures(t *testing.T) {
	m, _, _ := newTestManager(t)
	id, err := m.CreateSnapshot(installed(t), "before uninstall")
	require.NoError(t, err)

	boom := errors.New("jq: downloading bottle: network error")
	inst := &fakeInstaller{fail: map[string]error{"jq": boom}}
	res, err := m.RestoreSnapshot(context.Background(), id, inst)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, res.Results, 3, "other packages are still restored")
}

func TestRestoreSnapshot_Missing(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.RestoreSnapshot(context.Background(), 42, &fakeInstaller{})
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Latest()
	assert.Error(t, err)

	pkgs := installed(t)
	_, err = m.CreateSnapshot(pkgs[:1], "first")
	require.NoError(t, err)
	second, err := m.CreateSnapshot(pkgs[1:], "second")
	require.NoError(t, err)

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
}

func TestCleanupOldSnapshots(t *testing.T) {
	m, _, _ := newTestManager(t)
	id, err := m.CreateSnapshot(installed(t), "old")
	require.NoError(t, err)
	snap, err := m.store.GetSnapshot(id)
	require.NoError(t, err)

	n, err := m.CleanupOldSnapshots()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, snap.SnapshotPath)

	m.now = func() time.Time { return time.Now().Add(100 * 24 * time.Hour) }
	n, err = m.CleanupOldSnapshots()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(snap.SnapshotPath)
	assert.True(t, os.IsNotExist(err))

	_, err = m.store.GetSnapshot(id)
	assert.Error(t, err)

	snaps, err := m.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
