package trellis

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"path"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/discover"
	"github.com/jward/trellis/internal/extract"
	"github.com/jward/trellis/internal/langs"
	"github.com/jward/trellis/internal/resolve"
	"github.com/jward/trellis/internal/store"
)

// Thin aliases keep engine.go free of direct sub-package plumbing.
func discoverNew(paths []string, readFile discover.ReadFileFn) *discover.Discovery {
	return discover.New(paths, readFile)
}

func authorityNew(readFile discover.ReadFileFn) *discover.Authority {
	return discover.NewAuthority(readFile)
}

func candidateToContext(c discover.Candidate, detached bool) *store.Context {
	status := c.ProbeStatus
	if detached {
		status = discover.ProbeDetached
	}
	return &store.Context{
		LanguageFamily: c.LanguageFamily,
		RootPath:       c.RootPath,
		Tier:           int64(c.Tier),
		Markers:        c.Markers,
		IncludeSpec:    c.IncludeSpec,
		ExcludeSpec:    c.ExcludeSpec,
		ProbeStatus:    status,
	}
}

func matchesSpec(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// workItem is one file scheduled for (re)extraction.
type workItem struct {
	path     string
	language string // "" when no grammar: lexical-only file
	family   string
	content  []byte
	hash     string
}

// extractOutcome is a worker's result for one file.
type extractOutcome struct {
	item     workItem
	bundle   *extract.Bundle
	parseErr error
}

// runEpoch executes one reindex: fan-out parse+extract, then a single
// write path that stages lexical updates, writes facts in one SQL
// transaction, resolves imports, and publishes the epoch atomically.
// Failure of the lexical commit discards staging and rolls back the
// transaction; the previously published epoch stays live.
func (e *Engine) runEpoch(ctx context.Context, plan *runPlan, progress ProgressFunc) (IndexStats, []string, error) {
	stats := IndexStats{}
	epochErrors := append([]string(nil), plan.errors...)
	var snapshots []store.DefSnapshotRecord

	report := func(processed, total int, phase string) {
		if progress != nil {
			progress(processed, total, extByCount(plan.indexPaths), phase)
		}
	}
	report(0, len(plan.indexPaths), PhaseDiscovery)

	// ---- Phase A: hash check against stored state (serial) ----
	var items []workItem
	for _, p := range plan.indexPaths {
		if err := ctx.Err(); err != nil {
			return stats, nil, errCancelled
		}
		content, err := e.reader.ReadFile(p)
		if err != nil {
			epochErrors = append(epochErrors, fmt.Sprintf("read %s: %v", p, err))
			continue
		}
		if content == nil {
			plan.removePaths = append(plan.removePaths, p)
			continue
		}
		hash := fmt.Sprintf("%x", sha256.Sum256(content))
		if !plan.truncate {
			existing, err := e.store.FileByPath(p)
			if err != nil {
				return stats, nil, fmt.Errorf("trellis: lookup %s: %w", p, err)
			}
			if existing != nil && !existing.Missing && existing.ContentHash == hash {
				continue
			}
		}
		lang, _ := langs.LanguageForFile(p)
		family := familyForItem(p, lang)
		if e.languages != nil && lang != "" && !e.languages[lang] {
			lang = "" // filtered out of fact extraction, still lexical
		}
		items = append(items, workItem{path: p, language: lang, family: family, content: content, hash: hash})
	}

	// ---- Phase B: parallel parse + extract ----
	outcomes, err := e.extractAll(ctx, items, func(done int) {
		report(done, len(items), PhaseParsing)
	})
	if err != nil {
		return stats, nil, err
	}

	// ---- Phase C: single write path ----
	tx, err := e.store.DB().Begin()
	if err != nil {
		return stats, nil, fmt.Errorf("trellis: begin epoch: %w", err)
	}
	rollback := func() {
		tx.Rollback()
		e.lex.DiscardStaged()
	}

	if plan.truncate {
		if err := store.Truncate(tx); err != nil {
			rollback()
			return stats, nil, err
		}
		if err := e.lex.Clear(); err != nil {
			rollback()
			return stats, nil, err
		}
	}

	// Contexts persist first so file rows can reference them.
	for _, c := range plan.contexts {
		if _, err := store.UpsertContext(tx, c); err != nil {
			rollback()
			return stats, nil, err
		}
	}
	// Re-resolve the path->context assignment against persisted IDs.
	plan.contextByPath = assignContexts(plan.allPaths, plan.contexts)

	commitOutcome := func(out extractOutcome) error {
		if err := ctx.Err(); err != nil {
			return errCancelled
		}
		unitID := plan.contextByPath[out.item.path]
		existing, err := store.FileByPath(tx, out.item.path)
		if err != nil {
			return err
		}

		if out.parseErr != nil {
			// Parse failure: keep the previous epoch's facts for this
			// file rather than wiping known-good data.
			epochErrors = append(epochErrors, fmt.Sprintf("parse %s: %v", out.item.path, out.parseErr))
			e.log.Warn("parse failed", zap.String("path", out.item.path), zap.Error(out.parseErr))
			return nil
		}

		var oldDefs map[string]*store.DefFact
		if existing != nil {
			oldDefs, err = defsByUID(tx, existing.ID)
			if err != nil {
				return err
			}
			if err := store.DeleteFileFacts(tx, existing.ID); err != nil {
				return err
			}
			stats.FilesModified++
		} else {
			stats.FilesAdded++
		}

		declared := ""
		var symbols []string
		if out.bundle != nil {
			declared = out.bundle.DeclaredModule
			symbols = out.bundle.Symbols
		}

		f := existing
		if f == nil {
			f = &store.File{Path: out.item.path}
		}
		f.Language = out.item.language
		f.LanguageFamily = out.item.family
		f.DeclaredModule = declared
		f.ContextID = unitID
		f.ContentHash = out.item.hash
		f.SizeBytes = int64(len(out.item.content))
		f.Missing = false
		if existing == nil {
			if _, err := store.InsertFile(tx, f); err != nil {
				return err
			}
		} else if err := store.UpdateFile(tx, f); err != nil {
			return err
		}

		if out.bundle != nil {
			if err := store.CommitBatch(tx, f.ID, unitID, out.bundle.Batch); err != nil {
				return err
			}
			snapshots = append(snapshots, snapshotDiff(out.bundle, oldDefs, out.item.path)...)
			for key, count := range out.bundle.Anchors {
				var receiver *string
				if key.Receiver != "" {
					r := key.Receiver
					receiver = &r
				}
				if err := store.BumpAnchorGroup(tx, unitID, key.Member, receiver, count); err != nil {
					return err
				}
			}
			if len(out.bundle.Exports) > 0 || len(oldDefs) > 0 {
				if err := mergeExports(tx, unitID, oldDefs, out.bundle.Exports); err != nil {
					return err
				}
			}
		}

		// Stage the lexical upsert; non-binary files only.
		if !isBinary(out.item.content) {
			e.lex.StageFile(out.item.path, string(out.item.content), unitID, f.ID, symbols)
		}
		stats.FilesProcessed++
		return nil
	}

	for _, out := range outcomes {
		if err := commitOutcome(out); err != nil {
			rollback()
			return stats, nil, err
		}
	}

	// Removed files: drop facts, tombstone their defs, soft-remove the
	// row, stage a lexical removal.
	snapshotTombstones := map[string]*store.DefFact{}
	for _, p := range plan.removePaths {
		existing, err := store.FileByPath(tx, p)
		if err != nil {
			rollback()
			return stats, nil, err
		}
		if existing == nil || existing.Missing {
			continue
		}
		oldDefs, err := defsByUID(tx, existing.ID)
		if err != nil {
			rollback()
			return stats, nil, err
		}
		for uid, d := range oldDefs {
			snapshotTombstones[uid] = d
		}
		if err := store.DeleteFileFacts(tx, existing.ID); err != nil {
			rollback()
			return stats, nil, err
		}
		existing.Missing = true
		if err := store.UpdateFile(tx, existing); err != nil {
			rollback()
			return stats, nil, err
		}
		e.lex.StageRemove(p)
		stats.FilesRemoved++
		stats.FilesProcessed++
	}

	// ---- Config-augmented declared modules (Go, Rust) ----
	report(len(items), len(items), PhaseResolution)
	if err := e.augmentDeclaredModules(tx, plan); err != nil {
		rollback()
		return stats, nil, err
	}

	// ---- Import resolution over the full file/module index ----
	if err := e.resolveImports(tx, plan); err != nil {
		rollback()
		return stats, nil, err
	}

	// ---- Atomic publish: lexical first, then the SQL commit ----
	report(len(items), len(items), PhaseLexical)
	if err := ctx.Err(); err != nil {
		rollback()
		return stats, nil, errCancelled
	}
	if _, err := e.lex.CommitStaged(); err != nil {
		rollback()
		return stats, nil, fmt.Errorf("trellis: lexical commit: %w", err)
	}

	epoch := &store.Epoch{
		CreatedAt:     time.Now(),
		HeadSHA:       e.git.HeadSHA(),
		FilesAdded:    int64(stats.FilesAdded),
		FilesModified: int64(stats.FilesModified),
		FilesRemoved:  int64(stats.FilesRemoved),
		Errors:        epochErrors,
	}
	epochID, err := store.InsertEpoch(tx, epoch)
	if err != nil {
		tx.Rollback()
		return stats, nil, err
	}
	for uid, d := range snapshotTombstones {
		snapshots = append(snapshots, store.DefSnapshotRecord{
			DefUID:        uid,
			Tombstone:     true,
			SignatureHash: d.SignatureHash,
			BodyHash:      d.BodyHash,
		})
	}
	for i := range snapshots {
		snapshots[i].EpochID = epochID
		if err := store.InsertSnapshot(tx, &snapshots[i]); err != nil {
			tx.Rollback()
			return stats, nil, err
		}
	}
	if _, err := tx.Exec("UPDATE files SET last_seen_epoch = ? WHERE NOT missing", epochID); err != nil {
		tx.Rollback()
		return stats, nil, fmt.Errorf("trellis: stamp files: %w", err)
	}
	ignoreHash := fmt.Sprintf("%x", sha256.Sum256([]byte(plan.ignore.Raw())))
	if _, err := tx.Exec(
		"INSERT INTO metadata (key, value) VALUES ('cplignore_hash', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		ignoreHash,
	); err != nil {
		tx.Rollback()
		return stats, nil, fmt.Errorf("trellis: record ignore hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return stats, nil, fmt.Errorf("trellis: commit epoch: %w", err)
	}
	return stats, epochErrors, nil
}

// extractAll runs parse+extract for every item, on a worker pool when
// parallel mode is on. Parse errors are per-file outcomes, not run
// failures.
func (e *Engine) extractAll(ctx context.Context, items []workItem, onDone func(done int)) ([]extractOutcome, error) {
	outcomes := make([]extractOutcome, len(items))

	process := func(i int) {
		item := items[i]
		outcomes[i] = extractOutcome{item: item}
		if item.language == "" {
			return // lexical-only file
		}
		res, err := e.parser.ParseAs(ctx, item.language, item.content)
		if err != nil {
			outcomes[i].parseErr = err
			return
		}
		defer res.Close()
		bundle, err := e.extractor.Extract(res, item.path)
		if err != nil {
			outcomes[i].parseErr = err
			return
		}
		outcomes[i].bundle = bundle
	}

	if !e.useParallel || len(items) < 2 {
		for i := range items {
			if err := ctx.Err(); err != nil {
				return nil, errCancelled
			}
			process(i)
			onDone(i + 1)
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range items {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errCancelled
			}
			process(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	onDone(len(items))
	return outcomes, nil
}

// --- snapshots ---

// snapshotDiff produces one DefSnapshotRecord per definition that is new
// or whose signature/body hash changed, plus tombstones for definitions
// that disappeared from the file. Epoch IDs are stamped at publish.
func snapshotDiff(bundle *extract.Bundle, oldDefs map[string]*store.DefFact, filePath string) []store.DefSnapshotRecord {
	var out []store.DefSnapshotRecord
	newUIDs := map[string]bool{}
	for _, def := range bundle.Batch.Defs {
		newUIDs[def.DefUID] = true
		old, existed := oldDefs[def.DefUID]
		if existed && old.SignatureHash == def.SignatureHash && old.BodyHash == def.BodyHash {
			continue
		}
		out = append(out, store.DefSnapshotRecord{
			DefUID:        def.DefUID,
			FilePath:      filePath,
			SignatureHash: def.SignatureHash,
			BodyHash:      def.BodyHash,
			StartLine:     def.StartLine,
			StartCol:      def.StartCol,
			EndLine:       def.EndLine,
			EndCol:        def.EndCol,
		})
	}
	for uid, old := range oldDefs {
		if !newUIDs[uid] {
			out = append(out, store.DefSnapshotRecord{
				DefUID:        uid,
				FilePath:      filePath,
				SignatureHash: old.SignatureHash,
				BodyHash:      old.BodyHash,
				Tombstone:     true,
			})
		}
	}
	return out
}

// --- resolution helpers ---

// augmentDeclaredModules computes full declared_module values for Go and
// Rust files from go.mod / Cargo.toml, which needs the complete file
// list and so runs after extraction.
func (e *Engine) augmentDeclaredModules(tx *sql.Tx, plan *runPlan) error {
	readFile := func(p string) ([]byte, error) { return e.reader.ReadFile(p) }
	cfg := resolve.NewConfigResolver(plan.allPaths, readFile)

	rows, err := tx.Query("SELECT id, path, language FROM files WHERE NOT missing AND language IN ('go', 'rust')")
	if err != nil {
		return fmt.Errorf("trellis: list go/rust files: %w", err)
	}
	type row struct {
		id   int64
		path string
		lang string
	}
	var files []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.lang); err != nil {
			rows.Close()
			return fmt.Errorf("trellis: scan file: %w", err)
		}
		files = append(files, r)
	}
	rows.Close()

	for _, f := range files {
		module := cfg.DeclaredModule(f.path, f.lang)
		if module == "" {
			continue
		}
		if _, err := tx.Exec("UPDATE files SET declared_module = ? WHERE id = ?", module, f.id); err != nil {
			return fmt.Errorf("trellis: update declared module: %w", err)
		}
	}
	return nil
}

// resolveImports builds the resolver over all present files and attaches
// resolved_path to every import fact.
func (e *Engine) resolveImports(tx *sql.Tx, plan *runPlan) error {
	declared := map[string]string{}
	rows, err := tx.Query("SELECT path, declared_module FROM files WHERE NOT missing AND declared_module != ''")
	if err != nil {
		return fmt.Errorf("trellis: list declared modules: %w", err)
	}
	for rows.Next() {
		var p, m string
		if err := rows.Scan(&p, &m); err != nil {
			rows.Close()
			return fmt.Errorf("trellis: scan module: %w", err)
		}
		declared[p] = m
	}
	rows.Close()

	resolver := resolve.New(plan.allPaths, declared)

	type impRow struct {
		id       int64
		source   string
		kind     string
		filePath string
	}
	rows, err = tx.Query(
		`SELECT i.id, i.source_literal, i.import_kind, f.path
		 FROM import_facts i JOIN files f ON f.id = i.file_id
		 WHERE NOT f.missing`,
	)
	if err != nil {
		return fmt.Errorf("trellis: list imports: %w", err)
	}
	var imports []impRow
	for rows.Next() {
		var r impRow
		if err := rows.Scan(&r.id, &r.source, &r.kind, &r.filePath); err != nil {
			rows.Close()
			return fmt.Errorf("trellis: scan import: %w", err)
		}
		imports = append(imports, r)
	}
	rows.Close()

	for _, imp := range imports {
		resolved := resolver.Resolve(imp.source, imp.kind, imp.filePath)
		var value any
		if resolved != "" {
			value = resolved
		}
		if _, err := tx.Exec("UPDATE import_facts SET resolved_path = ? WHERE id = ?", value, imp.id); err != nil {
			return fmt.Errorf("trellis: update import: %w", err)
		}
	}
	return nil
}

// mergeExports replaces a unit's export entries contributed by one
// file's previous definitions with its new exports.
func mergeExports(tx *sql.Tx, unitID int64, oldDefs map[string]*store.DefFact, exports map[string]string) error {
	if _, err := tx.Exec("INSERT OR IGNORE INTO export_surfaces (unit_id) VALUES (?)", unitID); err != nil {
		return fmt.Errorf("export surface: %w", err)
	}
	var surfaceID int64
	if err := tx.QueryRow("SELECT id FROM export_surfaces WHERE unit_id = ?", unitID).Scan(&surfaceID); err != nil {
		return fmt.Errorf("export surface id: %w", err)
	}
	for uid := range oldDefs {
		if _, err := tx.Exec("DELETE FROM export_entries WHERE surface_id = ? AND def_uid = ?", surfaceID, uid); err != nil {
			return fmt.Errorf("clear export entry: %w", err)
		}
	}
	for name, uid := range exports {
		if _, err := tx.Exec(
			`INSERT INTO export_entries (surface_id, exported_name, def_uid) VALUES (?, ?, ?)`,
			surfaceID, name, uid,
		); err != nil {
			return fmt.Errorf("insert export entry: %w", err)
		}
	}
	return nil
}

// defsByUID snapshots a file's current definitions before deletion.
func defsByUID(tx *sql.Tx, fileID int64) (map[string]*store.DefFact, error) {
	rows, err := tx.Query(
		"SELECT def_uid, signature_hash, body_hash FROM def_facts WHERE file_id = ?", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("defs by uid: %w", err)
	}
	defer rows.Close()
	out := map[string]*store.DefFact{}
	for rows.Next() {
		d := &store.DefFact{}
		if err := rows.Scan(&d.DefUID, &d.SignatureHash, &d.BodyHash); err != nil {
			return nil, fmt.Errorf("scan def: %w", err)
		}
		out[d.DefUID] = d
	}
	return out, rows.Err()
}

func familyForItem(p, lang string) string {
	if lang != "" {
		if f, ok := langs.FamilyForLanguage(lang); ok {
			return f
		}
	}
	if f, ok := langs.FamilyForFile(p); ok {
		return f
	}
	return ""
}

// isBinary applies the classic NUL-byte sniff to the head of the file.
func isBinary(content []byte) bool {
	n := len(content)
	if n > 8000 {
		n = 8000
	}
	for _, b := range content[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}

func extByCount(paths []string) map[string]int {
	byExt := map[string]int{}
	for _, p := range paths {
		ext := path.Ext(p)
		if ext == "" {
			ext = path.Base(p)
		}
		byExt[ext]++
	}
	return byExt
}
