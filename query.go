package trellis

import (
	"github.com/jward/trellis/internal/store"
)

// Re-exported row types for the query surface.
type (
	Context           = store.Context
	File              = store.File
	Scope             = store.Scope
	DefFact           = store.DefFact
	RefFact           = store.RefFact
	LocalBindFact     = store.LocalBindFact
	ImportFact        = store.ImportFact
	ExportSurface     = store.ExportSurface
	ExportEntry       = store.ExportEntry
	AnchorGroup       = store.AnchorGroup
	Epoch             = store.Epoch
	DefSnapshotRecord = store.DefSnapshotRecord
)

// Query is the read-only graph facade over the fact store. Each call
// translates to exactly one indexed SQL query; none mutate state, and
// all observe the most recently published epoch.
type Query struct {
	store *store.Store
}

// NewQuery creates a Query from a Store. Used by the CLI for commands
// that do not need a full Engine.
func NewQuery(s *store.Store) *Query { return &Query{store: s} }

// GetDef returns a definition by stable UID, or nil.
func (q *Query) GetDef(uid string) (*DefFact, error) {
	return q.store.DefByUID(uid)
}

// ListDefsByName returns definitions named name within a context.
func (q *Query) ListDefsByName(unitID int64, name string, limit int) ([]*DefFact, error) {
	return q.store.DefsByName(unitID, name, limit)
}

// ListDefsInFile returns all definitions in a file.
func (q *Query) ListDefsInFile(fileID int64) ([]*DefFact, error) {
	return q.store.DefsInFile(fileID)
}

// ListRefsByDefUID returns references targeting a definition; tier ""
// means all tiers.
func (q *Query) ListRefsByDefUID(uid, tier string) ([]*RefFact, error) {
	return q.store.RefsByDefUID(uid, tier)
}

// ListProvenRefs returns only proven-tier references to a definition.
func (q *Query) ListProvenRefs(uid string) ([]*RefFact, error) {
	return q.store.ProvenRefs(uid)
}

// ListRefsInFile returns all identifier occurrences in a file.
func (q *Query) ListRefsInFile(fileID int64) ([]*RefFact, error) {
	return q.store.RefsInFile(fileID)
}

// ListRefsByToken returns occurrences of a token within a context.
func (q *Query) ListRefsByToken(unitID int64, token string) ([]*RefFact, error) {
	return q.store.RefsByToken(unitID, token)
}

// GetScope returns a scope by id.
func (q *Query) GetScope(id int64) (*Scope, error) {
	return q.store.ScopeByID(id)
}

// ListScopesInFile returns all scopes of a file.
func (q *Query) ListScopesInFile(fileID int64) ([]*Scope, error) {
	return q.store.ScopesInFile(fileID)
}

// GetLocalBind returns the binding of name in a scope, or nil.
func (q *Query) GetLocalBind(scopeID int64, name string) (*LocalBindFact, error) {
	return q.store.LocalBind(scopeID, name)
}

// ListBindsInScope returns all bindings of a scope.
func (q *Query) ListBindsInScope(scopeID int64) ([]*LocalBindFact, error) {
	return q.store.BindsInScope(scopeID)
}

// ListImports returns a file's import facts.
func (q *Query) ListImports(fileID int64) ([]*ImportFact, error) {
	return q.store.ImportsInFile(fileID)
}

// GetImport returns an import fact by UID, or nil.
func (q *Query) GetImport(uid string) (*ImportFact, error) {
	return q.store.ImportByUID(uid)
}

// GetExportSurface returns a context's export surface, or nil.
func (q *Query) GetExportSurface(unitID int64) (*ExportSurface, error) {
	return q.store.ExportSurface(unitID)
}

// ListExportEntries returns a surface's exported name -> def_uid rows.
func (q *Query) ListExportEntries(surfaceID int64) ([]*ExportEntry, error) {
	return q.store.ExportEntries(surfaceID)
}

// GetAnchorGroup returns the (member, receiver) bucket for a context.
func (q *Query) GetAnchorGroup(unitID int64, member string, receiver *string) (*AnchorGroup, error) {
	return q.store.AnchorGroup(unitID, member, receiver)
}

// ListAnchorGroups returns all anchor buckets of a context.
func (q *Query) ListAnchorGroups(unitID int64) ([]*AnchorGroup, error) {
	return q.store.AnchorGroups(unitID)
}

// GetFile returns a file row by id, or nil.
func (q *Query) GetFile(id int64) (*File, error) {
	return q.store.FileByID(id)
}

// GetFileByPath returns a file row by repo-relative path, or nil.
func (q *Query) GetFileByPath(path string) (*File, error) {
	return q.store.FileByPath(path)
}

// ListFiles returns present files, up to limit (0 = all).
func (q *Query) ListFiles(limit int) ([]*File, error) {
	return q.store.Files(limit)
}

// ListContexts returns all contexts.
func (q *Query) ListContexts() ([]*Context, error) {
	return q.store.Contexts()
}

// CurrentEpoch returns the most recently published epoch, or nil.
func (q *Query) CurrentEpoch() (*Epoch, error) {
	return q.store.CurrentEpoch()
}

// SnapshotAt reconstructs a definition's state at an epoch.
func (q *Query) SnapshotAt(defUID string, epoch int64) (*DefSnapshotRecord, error) {
	return q.store.SnapshotAt(defUID, epoch)
}

// SnapshotsForDef returns all snapshot records of a definition, newest
// first.
func (q *Query) SnapshotsForDef(defUID string) ([]*DefSnapshotRecord, error) {
	return q.store.SnapshotsForDef(defUID)
}
