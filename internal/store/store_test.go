package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func insertTestContext(t *testing.T, s *Store, family, root string, tier int64) int64 {
	t.Helper()
	id, err := UpsertContext(s.DB(), &Context{
		LanguageFamily: family,
		RootPath:       root,
		Tier:           tier,
		ProbeStatus:    "valid",
	})
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

func insertTestFile(t *testing.T, s *Store, path string, contextID int64) *File {
	t.Helper()
	f := &File{Path: path, Language: "python", LanguageFamily: "python", ContextID: contextID, ContentHash: "abc"}
	_, err := InsertFile(s.DB(), f)
	require.NoError(t, err)
	return f
}

// =============================================================================
// Schema & lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	expected := []string{
		"metadata", "contexts", "files", "scopes", "def_facts", "ref_facts",
		"local_bind_facts", "import_facts", "export_surfaces", "export_entries",
		"anchor_groups", "dynamic_access_facts", "epochs", "def_snapshot_records",
	}
	for _, table := range expected {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.GetMetadata("absent")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SetMetadata("k", "v1"))
	require.NoError(t, s.SetMetadata("k", "v2"))
	got, err = s.GetMetadata("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

// =============================================================================
// Contexts & files
// =============================================================================

func TestUpsertContext_StableID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	first := insertTestContext(t, s, "python", "", 2)
	again, err := UpsertContext(s.DB(), &Context{
		LanguageFamily: "python", RootPath: "", Tier: 2, ProbeStatus: "valid",
		Markers: []string{"pyproject.toml"},
	})
	require.NoError(t, err)
	assert.Equal(t, first, again, "upsert keyed by (family, root) keeps ids stable")

	ctx, err := s.ContextByID(first)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, []string{"pyproject.toml"}, ctx.Markers)
}

func TestFile_InsertAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "python", "", 2)

	f := insertTestFile(t, s, "src/a.py", ctxID)
	got, err := s.FileByPath("src/a.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, ctxID, got.ContextID)

	missing, err := s.FileByPath("nope.py")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// Batch commit
// =============================================================================

func TestCommitBatch_RemapsScopeIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "python", "", 2)
	f := insertTestFile(t, s, "src/a.py", ctxID)

	batch := NewFactBatch()
	fileScope := batch.AddScope(Scope{Kind: ScopeFile, EndLine: 10})
	funcScope := batch.AddScope(Scope{Kind: ScopeFunction, ParentScopeID: ptr(fileScope), StartLine: 1, EndLine: 3})
	require.Negative(t, fileScope)
	require.Negative(t, funcScope)

	uid := "deadbeefdeadbeefdeadbeef"
	batch.AddDef(DefFact{DefUID: uid, Kind: "function", Name: "f", LexicalPath: "f", StartLine: 1, EndLine: 3})
	batch.AddBind(LocalBindFact{ScopeID: fileScope, Name: "f", TargetKind: BindDef, TargetUID: ptr(uid)})
	batch.AddRef(RefFact{TokenText: "f", Role: RoleReference, RefTier: TierProven, Certainty: Certain, TargetDefUID: ptr(uid), StartLine: 5})
	batch.AddImport(ImportFact{ImportUID: "imp1", ImportedName: "os", SourceLiteral: "os", ImportKind: "python_import", Certainty: Certain})

	require.NoError(t, CommitBatch(s.DB(), f.ID, ctxID, batch))

	scopes, err := s.ScopesInFile(f.ID)
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	var file, fn *Scope
	for _, sc := range scopes {
		switch sc.Kind {
		case ScopeFile:
			file = sc
		case ScopeFunction:
			fn = sc
		}
	}
	require.NotNil(t, file)
	require.NotNil(t, fn)
	assert.Nil(t, file.ParentScopeID)
	require.NotNil(t, fn.ParentScopeID)
	assert.Equal(t, file.ID, *fn.ParentScopeID, "fake parent id remapped to the real file scope id")
	assert.Positive(t, fn.ID)

	bind, err := s.LocalBind(file.ID, "f")
	require.NoError(t, err)
	require.NotNil(t, bind)
	assert.Equal(t, uid, *bind.TargetUID)

	def, err := s.DefByUID(uid)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, ctxID, def.UnitID)
}

func TestCommitBatch_DefUIDUniqueConstraint(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "python", "", 2)
	f := insertTestFile(t, s, "src/a.py", ctxID)

	batch := NewFactBatch()
	batch.AddScope(Scope{Kind: ScopeFile})
	batch.AddDef(DefFact{DefUID: "same", Kind: "function", Name: "a", LexicalPath: "a"})
	batch.AddDef(DefFact{DefUID: "same", Kind: "function", Name: "b", LexicalPath: "b"})
	err := CommitBatch(s.DB(), f.ID, ctxID, batch)
	require.Error(t, err, "uid collisions surface as storage errors")
}

func TestDeleteFileFacts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "python", "", 2)
	f := insertTestFile(t, s, "src/a.py", ctxID)

	batch := NewFactBatch()
	root := batch.AddScope(Scope{Kind: ScopeFile})
	batch.AddDef(DefFact{DefUID: "u1", Kind: "function", Name: "f", LexicalPath: "f"})
	batch.AddBind(LocalBindFact{ScopeID: root, Name: "f", TargetKind: BindDef})
	batch.AddRef(RefFact{TokenText: "f", Role: RoleReference, RefTier: TierUnknown, Certainty: Uncertain})
	require.NoError(t, CommitBatch(s.DB(), f.ID, ctxID, batch))

	uids, err := DefUIDsForFile(s.DB(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, uids)

	require.NoError(t, DeleteFileFacts(s.DB(), f.ID))

	defs, err := s.DefsInFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, defs)
	scopes, err := s.ScopesInFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, scopes)
	refs, err := s.RefsInFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

// =============================================================================
// Graph queries
// =============================================================================

func TestGraph_RefQueriesByTier(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "python", "", 2)
	f := insertTestFile(t, s, "src/a.py", ctxID)

	batch := NewFactBatch()
	batch.AddScope(Scope{Kind: ScopeFile})
	batch.AddRef(RefFact{TokenText: "x", Role: RoleReference, RefTier: TierProven, Certainty: Certain, TargetDefUID: ptr("u1")})
	batch.AddRef(RefFact{TokenText: "x", Role: RoleReference, RefTier: TierUnknown, Certainty: Uncertain})
	batch.AddRef(RefFact{TokenText: "x", Role: RoleReference, RefTier: TierStrong, Certainty: Certain, TargetDefUID: ptr("u1")})
	require.NoError(t, CommitBatch(s.DB(), f.ID, ctxID, batch))

	all, err := s.RefsByDefUID("u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	proven, err := s.ProvenRefs("u1")
	require.NoError(t, err)
	require.Len(t, proven, 1)
	assert.Equal(t, TierProven, proven[0].RefTier)

	byToken, err := s.RefsByToken(ctxID, "x")
	require.NoError(t, err)
	assert.Len(t, byToken, 3)
}

func TestGraph_ExportsAndAnchors(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctxID := insertTestContext(t, s, "go", "", 2)

	require.NoError(t, ReplaceExportEntries(s.DB(), ctxID, map[string]string{"NewBuffer": "u1", "Buffer": "u2"}))
	surface, err := s.ExportSurface(ctxID)
	require.NoError(t, err)
	require.NotNil(t, surface)
	entries, err := s.ExportEntries(surface.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, BumpAnchorGroup(s.DB(), ctxID, "execute", ptr("conn"), 2))
	require.NoError(t, BumpAnchorGroup(s.DB(), ctxID, "execute", ptr("conn"), 3))
	g, err := s.AnchorGroup(ctxID, "execute", ptr("conn"))
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, int64(5), g.TotalCount)

	groups, err := s.AnchorGroups(ctxID)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

// =============================================================================
// Epochs & snapshots
// =============================================================================

func TestEpoch_InsertAndCurrent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	none, err := s.CurrentEpoch()
	require.NoError(t, err)
	assert.Nil(t, none)

	id1, err := InsertEpoch(s.DB(), &Epoch{CreatedAt: time.Now(), HeadSHA: "abc", FilesAdded: 3})
	require.NoError(t, err)
	id2, err := InsertEpoch(s.DB(), &Epoch{CreatedAt: time.Now(), HeadSHA: "def"})
	require.NoError(t, err)
	require.Greater(t, id2, id1, "epoch ids are monotonic")

	current, err := s.CurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, id2, current.ID)
	assert.Equal(t, "def", current.HeadSHA)
}

func TestSnapshots_ReconstructionAtEpoch(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e1, err := InsertEpoch(s.DB(), &Epoch{CreatedAt: time.Now()})
	require.NoError(t, err)
	e2, err := InsertEpoch(s.DB(), &Epoch{CreatedAt: time.Now()})
	require.NoError(t, err)
	e3, err := InsertEpoch(s.DB(), &Epoch{CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, InsertSnapshot(s.DB(), &DefSnapshotRecord{
		DefUID: "u1", EpochID: e1, FilePath: "a.py", BodyHash: "v1",
	}))
	require.NoError(t, InsertSnapshot(s.DB(), &DefSnapshotRecord{
		DefUID: "u1", EpochID: e2, FilePath: "a.py", BodyHash: "v2",
	}))
	require.NoError(t, InsertSnapshot(s.DB(), &DefSnapshotRecord{
		DefUID: "u1", EpochID: e3, Tombstone: true,
	}))

	at1, err := s.SnapshotAt("u1", e1)
	require.NoError(t, err)
	require.NotNil(t, at1)
	assert.Equal(t, "v1", at1.BodyHash)

	at2, err := s.SnapshotAt("u1", e2)
	require.NoError(t, err)
	require.NotNil(t, at2)
	assert.Equal(t, "v2", at2.BodyHash)

	// Tombstoned at e3.
	at3, err := s.SnapshotAt("u1", e3)
	require.NoError(t, err)
	assert.Nil(t, at3)

	history, err := s.SnapshotsForDef("u1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
