package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/keyring"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// TreeFormatVersion is the persisted tree record version.
const TreeFormatVersion = "2"

const (
	backupPrefix = "tree-"
	backupExt    = ".arcbak"
)

// treeRecord is the envelope sealed under the master key: the raw tree
// bytes, their digest, and format metadata. The digest catches
// corruption that slips past authentication, such as a truncated write
// restored from an old backup.
type treeRecord struct {
	TreeJSON      []byte    `json:"tree_json"`
	SHA256        string    `json:"sha256"`
	FormatVersion string    `json:"format_version"`
	SavedAt       time.Time `json:"saved_at"`
}

// LoadResult reports how the tree was obtained and what repairs ran.
// Recovered is empty for a clean load (including the first open of a
// new vault), "backup:<name>" when a backup was promoted, and "fresh"
// when corruption forced a reset.
type LoadResult struct {
	Tree      *models.Tree
	Recovered string
	Repairs   []string
}

// Persister seals the tree to its primary file and maintains the
// rotating backup directory.
type Persister struct {
	path      string
	backupDir string
	retention int
	registry  *keyring.Registry
	logger    *events.Logger
}

// NewPersister creates a persister for the configured vault layout.
func NewPersister(cfg *config.VaultConfig, registry *keyring.Registry, logger *events.Logger) *Persister {
	return &Persister{
		path:      cfg.TreePath(),
		backupDir: cfg.BackupDir(),
		retention: cfg.BackupRetention,
		registry:  registry,
		logger:    logger.WithField("component", "persister"),
	}
}

// Save seals the tree, atomically replaces the primary file, and
// rotates a timestamped backup copy. Returns the sealed bytes.
func (p *Persister) Save(tree *models.Tree) ([]byte, error) {
	sealed, err := p.Snapshot(tree)
	if err != nil {
		return nil, err
	}

	if err := p.rotateBackup(sealed); err != nil {
		p.logger.WithError(err).Warn("Backup rotation failed")
	}
	return sealed, nil
}

// Snapshot seals the tree and atomically replaces the primary file
// without touching the backup rotation. Transactions use this before
// executing, so a rollback target exists on disk while operations run.
func (p *Persister) Snapshot(tree *models.Tree) ([]byte, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}

	digest := sha256.Sum256(data)
	record, err := json.Marshal(&treeRecord{
		TreeJSON:      data,
		SHA256:        hex.EncodeToString(digest[:]),
		FormatVersion: TreeFormatVersion,
		SavedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode tree record: %w", err)
	}

	master, err := p.registry.MasterKey()
	if err != nil {
		return nil, err
	}

	sealed, err := crypto.Seal(record, master)
	secure.Wipe(master)
	if err != nil {
		return nil, fmt.Errorf("seal tree record: %w", err)
	}

	if err := writeAtomic(p.path, sealed); err != nil {
		return nil, err
	}
	return sealed, nil
}

// Promote atomically writes previously sealed bytes back to the primary
// file. Used by rollback and by backup restoration.
func (p *Persister) Promote(sealed []byte) error {
	return writeAtomic(p.path, sealed)
}

// Load implements the recovery ladder: missing file seeds a fresh tree,
// a corrupt file is quarantined and the newest usable backup promoted,
// and with no usable backup a fresh tree is seeded. Referential repair
// runs on every loaded tree.
func (p *Persister) Load() (*LoadResult, error) {
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		tree, err := p.seedFresh()
		if err != nil {
			return nil, err
		}
		return &LoadResult{Tree: tree}, nil
	}

	sealed, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read tree file: %w", err)
	}

	master, err := p.registry.MasterKey()
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(master)

	tree, err := p.decode(sealed, master)
	if err == nil {
		repairs := tree.Repair()
		p.logRepairs(repairs)
		return &LoadResult{Tree: tree, Repairs: repairs}, nil
	}

	p.logger.WithError(err).Error("Tree file unreadable, attempting recovery")
	if qerr := p.quarantine(); qerr != nil {
		p.logger.WithError(qerr).Warn("Quarantine failed")
	}

	if result, ok := p.restoreNewestBackup(master); ok {
		return result, nil
	}

	tree, err = p.seedFresh()
	if err != nil {
		return nil, err
	}
	return &LoadResult{Tree: tree, Recovered: "fresh"}, nil
}

// decode opens the sealed record and validates version and checksum.
func (p *Persister) decode(sealed, master []byte) (*models.Tree, error) {
	record0, err := crypto.Open(sealed, master)
	if err != nil {
		return nil, err
	}

	var record treeRecord
	if err := json.Unmarshal(record0, &record); err != nil {
		return nil, fmt.Errorf("parse tree record: %w", err)
	}

	if record.FormatVersion != TreeFormatVersion {
		return nil, fmt.Errorf("unsupported tree format version %q", record.FormatVersion)
	}

	digest := sha256.Sum256(record.TreeJSON)
	if actual := hex.EncodeToString(digest[:]); actual != record.SHA256 {
		return nil, &models.IntegrityError{Path: p.path, Expected: record.SHA256, Actual: actual}
	}

	var tree models.Tree
	if err := json.Unmarshal(record.TreeJSON, &tree); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	return &tree, nil
}

// quarantine renames the unreadable primary file aside so it is kept
// for inspection rather than overwritten.
func (p *Persister) quarantine() error {
	aside := fmt.Sprintf("%s.corrupt-%s", p.path, time.Now().UTC().Format("20060102-150405"))
	if err := os.Rename(p.path, aside); err != nil {
		return fmt.Errorf("quarantine tree file: %w", err)
	}

	p.logger.WithField("path", aside).Warn("Corrupted tree file quarantined")
	return nil
}

// restoreNewestBackup walks the backups newest first and promotes the
// first one that decodes cleanly.
func (p *Persister) restoreNewestBackup(master []byte) (*LoadResult, bool) {
	backups, err := p.listBackups()
	if err != nil {
		p.logger.WithError(err).Warn("Listing backups failed")
		return nil, false
	}

	for i := len(backups) - 1; i >= 0; i-- {
		name := backups[i]
		sealed, err := os.ReadFile(filepath.Join(p.backupDir, name))
		if err != nil {
			p.logger.WithError(err).WithField("backup", name).Warn("Backup unreadable")
			continue
		}

		tree, err := p.decode(sealed, master)
		if err != nil {
			p.logger.WithError(err).WithField("backup", name).Warn("Backup corrupt")
			continue
		}

		if err := p.Promote(sealed); err != nil {
			p.logger.WithError(err).WithField("backup", name).Warn("Backup promotion failed")
			continue
		}

		repairs := tree.Repair()
		p.logRepairs(repairs)
		p.logger.WithField("backup", name).Warn("Tree restored from backup")
		return &LoadResult{Tree: tree, Recovered: "backup:" + name, Repairs: repairs}, true
	}

	return nil, false
}

// seedFresh creates and persists a tree holding only the root folder.
func (p *Persister) seedFresh() (*models.Tree, error) {
	tree := models.NewTree(uuid.NewString())
	if _, err := p.Save(tree); err != nil {
		return nil, err
	}

	p.logger.Info("Initialized fresh tree")
	return tree, nil
}

// rotateBackup writes a timestamped copy and prunes beyond retention.
func (p *Persister) rotateBackup(sealed []byte) error {
	if err := os.MkdirAll(p.backupDir, 0700); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	// Nanosecond precision keeps rapid consecutive saves from
	// colliding on one name. Fixed width keeps lexical order
	// chronological.
	name := backupPrefix + time.Now().UTC().Format("20060102-150405.000000000") + backupExt
	if err := writeAtomic(filepath.Join(p.backupDir, name), sealed); err != nil {
		return err
	}

	backups, err := p.listBackups()
	if err != nil {
		return err
	}
	for len(backups) > p.retention {
		oldest := backups[0]
		if err := os.Remove(filepath.Join(p.backupDir, oldest)); err != nil {
			return fmt.Errorf("prune backup %s: %w", oldest, err)
		}
		p.logger.WithField("backup", oldest).Debug("Pruned old backup")
		backups = backups[1:]
	}

	return nil
}

// listBackups returns backup file names sorted oldest first. Names are
// timestamped, so lexical order is chronological.
func (p *Persister) listBackups() ([]string, error) {
	entries, err := os.ReadDir(p.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && len(name) > len(backupPrefix)+len(backupExt) &&
			name[:len(backupPrefix)] == backupPrefix && filepath.Ext(name) == backupExt {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// BackupCount returns the number of rotation backups on disk.
func (p *Persister) BackupCount() (int, error) {
	backups, err := p.listBackups()
	if err != nil {
		return 0, err
	}
	return len(backups), nil
}

func (p *Persister) logRepairs(repairs []string) {
	for _, r := range repairs {
		p.logger.WithField("repair", r).Warn("Tree integrity repaired")
	}
}

// writeAtomic writes data through a same-directory temp file, syncs,
// and renames over the destination.
func writeAtomic(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
