// Package store owns the vault tree: an encrypted, checksummed record
// of every folder and file, persisted atomically with rotating backups.
// All mutations flow through a single worker goroutine; reads bypass
// the queue and return copies.
package store

import (
	"os"
	"sort"
	"sync"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/config"
	"github.com/arcvault/arcvault/internal/events"
	"github.com/arcvault/arcvault/internal/keyring"
	"github.com/arcvault/arcvault/internal/models"
)

type request struct {
	run  func() (interface{}, error)
	resp chan response
}

type response struct {
	out interface{}
	err error
}

// Service is the transactional object store of an open vault.
type Service struct {
	cfg      *config.VaultConfig
	registry *keyring.Registry
	guard    FolderGuard
	journal  *audit.Journal
	logger   *events.Logger
	persist  *Persister

	treeMu sync.RWMutex
	tree   *models.Tree

	requests chan request
	done     chan struct{}

	closeMu sync.Mutex
	closed  bool

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewService opens the store: it ensures the vault directories exist,
// loads (or recovers) the tree, and starts the worker. The registry
// must already hold the master key. A nil guard treats every protected
// folder as locked; a nil journal disables auditing.
func NewService(cfg *config.VaultConfig, registry *keyring.Registry, guard FolderGuard, journal *audit.Journal, logger *events.Logger) (*Service, error) {
	log := logger.WithField("service", "store")

	for _, dir := range []string{cfg.ObjectsDir(), cfg.BackupDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, &models.StoreError{Code: models.ErrCodeStorage, Op: "open", Err: err}
		}
	}

	s := &Service{
		cfg:      cfg,
		registry: registry,
		guard:    guard,
		journal:  journal,
		logger:   log,
		persist:  NewPersister(cfg, registry, logger),
		requests: make(chan request),
		done:     make(chan struct{}),
		locks:    make(map[string]*sync.Mutex),
	}

	result, err := s.persist.Load()
	if err != nil {
		return nil, err
	}
	s.tree = result.Tree

	if result.Recovered != "" {
		log.WithField("source", result.Recovered).Warn("Tree recovered")
		s.audit(audit.EventTreeRecovered, map[string]interface{}{"source": result.Recovered})
	}

	go s.worker()

	log.WithFields(map[string]interface{}{
		"files":   len(s.tree.Files),
		"folders": len(s.tree.Folders),
	}).Info("Store opened")
	return s, nil
}

func (s *Service) worker() {
	defer close(s.done)
	for req := range s.requests {
		out, err := req.run()
		req.resp <- response{out: out, err: err}
	}
}

// submit hands a job to the worker and waits for its result.
func (s *Service) submit(run func() (interface{}, error)) (interface{}, error) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil, models.ErrStoreClosed
	}
	req := request{run: run, resp: make(chan response, 1)}
	s.requests <- req
	s.closeMu.Unlock()

	r := <-req.resp
	return r.out, r.err
}

// Close drains the worker, drops the tree, and wipes every key in the
// registry. Further calls on the store return ErrStoreClosed.
func (s *Service) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.requests)
	s.closeMu.Unlock()

	<-s.done

	s.treeMu.Lock()
	s.tree = nil
	s.treeMu.Unlock()

	s.registry.ClearAll()
	s.logger.Info("Store closed")
	return nil
}

// entityLock returns the mutex serializing work on one file or folder.
func (s *Service) entityLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Service) audit(event string, detail map[string]interface{}) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(event, detail); err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("Audit append failed")
	}
}

// AddFile encrypts src into the vault under parentID and returns the
// new file id. An empty name takes the source base name; an empty
// parentID targets the root.
func (s *Service) AddFile(src, name, parentID string) (string, error) {
	txn := s.Begin("add file")
	if err := txn.AddFile(src, name, parentID); err != nil {
		return "", err
	}

	results, err := txn.Commit()
	if err != nil {
		return "", unwrapSingle(err)
	}
	return results[0], nil
}

// DeleteFile removes a file and shreds its blob.
func (s *Service) DeleteFile(fileID string) error {
	txn := s.Begin("delete file")
	if err := txn.DeleteFile(fileID); err != nil {
		return err
	}

	_, err := txn.Commit()
	return unwrapSingle(err)
}

// CreateFolder creates a folder under parentID and returns its id.
func (s *Service) CreateFolder(name, parentID string) (string, error) {
	txn := s.Begin("create folder")
	if err := txn.CreateFolder(name, parentID); err != nil {
		return "", err
	}

	results, err := txn.Commit()
	if err != nil {
		return "", unwrapSingle(err)
	}
	return results[0], nil
}

// DeleteFolder removes an empty folder.
func (s *Service) DeleteFolder(folderID string) error {
	txn := s.Begin("delete folder")
	if err := txn.DeleteFolder(folderID); err != nil {
		return err
	}

	_, err := txn.Commit()
	return unwrapSingle(err)
}

// unwrapSingle strips the transaction wrapper from a one-operation
// commit so callers see the underlying failure. Composite errors from
// a failed rollback pass through untouched.
func unwrapSingle(err error) error {
	if txErr, ok := err.(*models.TransactionError); ok && txErr.Err != nil {
		return txErr.Err
	}
	return err
}

// ExtractFile decrypts a file to destPath. Extraction runs off the
// worker so long reads do not stall writes; the per-entity lock keeps
// it coherent with a concurrent delete of the same file.
func (s *Service) ExtractFile(fileID, destPath string) error {
	lock := s.entityLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	s.treeMu.RLock()
	if s.tree == nil {
		s.treeMu.RUnlock()
		return models.ErrStoreClosed
	}
	file, ok := s.tree.File(fileID)
	var fileCopy models.FileNode
	var folderCopy *models.FolderNode
	if ok {
		fileCopy = *file
		if folder, ok := s.tree.Folder(file.FolderID); ok {
			fc := *folder
			folderCopy = &fc
		}
	}
	s.treeMu.RUnlock()

	if !ok {
		return &models.StoreError{Code: models.ErrCodeNotFound, Op: "extract_file", ID: fileID, Err: models.ErrNotFound}
	}

	if err := s.extractBlob(&fileCopy, folderCopy, destPath); err != nil {
		return err
	}

	s.audit(audit.EventFileExtracted, map[string]interface{}{
		"file_id": fileID,
		"name":    fileCopy.Name,
	})
	return nil
}

// VerifyIntegrity sweeps every blob and folder reference and returns
// the issues found, sorted by node id. It runs on the worker, so the
// sweep sees a quiescent tree.
func (s *Service) VerifyIntegrity() ([]models.Issue, error) {
	out, err := s.submit(func() (interface{}, error) {
		s.treeMu.RLock()
		defer s.treeMu.RUnlock()
		return s.execVerify(s.tree), nil
	})
	if err != nil {
		return nil, err
	}

	issues := out.([]models.Issue)
	s.audit(audit.EventIntegritySweep, map[string]interface{}{"issues": len(issues)})
	return issues, nil
}

// UpdateFolder applies fn to a folder's protection metadata and
// persists the tree. If persisting fails the change is undone. fn must
// not touch the child list.
func (s *Service) UpdateFolder(folderID string, fn func(*models.FolderNode) error) error {
	_, err := s.submit(func() (interface{}, error) {
		s.treeMu.Lock()
		defer s.treeMu.Unlock()

		folder, ok := s.tree.Folder(folderID)
		if !ok {
			return nil, &models.StoreError{Code: models.ErrCodeNotFound, Op: "update_folder", ID: folderID, Err: models.ErrNotFound}
		}

		original := *folder
		if err := fn(folder); err != nil {
			return nil, err
		}
		if _, err := s.persist.Save(s.tree); err != nil {
			*folder = original
			return nil, err
		}
		return nil, nil
	})
	return err
}

// RootID returns the root folder id.
func (s *Service) RootID() (string, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return "", models.ErrStoreClosed
	}
	return s.tree.RootID, nil
}

// FileInfo returns a copy of a file node.
func (s *Service) FileInfo(fileID string) (models.FileNode, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return models.FileNode{}, models.ErrStoreClosed
	}
	file, ok := s.tree.File(fileID)
	if !ok {
		return models.FileNode{}, &models.StoreError{Code: models.ErrCodeNotFound, Op: "file_info", ID: fileID, Err: models.ErrNotFound}
	}
	return *file, nil
}

// FolderInfo returns a copy of a folder node.
func (s *Service) FolderInfo(folderID string) (models.FolderNode, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return models.FolderNode{}, models.ErrStoreClosed
	}
	folder, ok := s.tree.Folder(folderID)
	if !ok {
		return models.FolderNode{}, &models.StoreError{Code: models.ErrCodeNotFound, Op: "folder_info", ID: folderID, Err: models.ErrNotFound}
	}

	node := *folder
	node.ChildIDs = append([]string(nil), folder.ChildIDs...)
	return node, nil
}

// Contents lists a folder's immediate children, split by type and
// sorted by name.
func (s *Service) Contents(folderID string) ([]models.FolderNode, []models.FileNode, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return nil, nil, models.ErrStoreClosed
	}
	if folderID == "" {
		folderID = s.tree.RootID
	}
	folder, ok := s.tree.Folder(folderID)
	if !ok {
		return nil, nil, &models.StoreError{Code: models.ErrCodeNotFound, Op: "list", ID: folderID, Err: models.ErrNotFound}
	}

	var folders []models.FolderNode
	var files []models.FileNode
	for _, childID := range folder.ChildIDs {
		if child, ok := s.tree.Folder(childID); ok {
			node := *child
			node.ChildIDs = append([]string(nil), child.ChildIDs...)
			folders = append(folders, node)
			continue
		}
		if child, ok := s.tree.File(childID); ok {
			files = append(files, *child)
		}
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return folders, files, nil
}

// Stats summarizes the open vault.
type Stats struct {
	Files     int   `json:"files"`
	Folders   int   `json:"folders"`
	TotalSize int64 `json:"total_size"`
	Backups   int   `json:"backups"`
}

// Stats returns counts and sizes for the open vault.
func (s *Service) Stats() (Stats, error) {
	s.treeMu.RLock()
	if s.tree == nil {
		s.treeMu.RUnlock()
		return Stats{}, models.ErrStoreClosed
	}

	st := Stats{
		Files:   len(s.tree.Files),
		Folders: len(s.tree.Folders),
	}
	for _, f := range s.tree.Files {
		st.TotalSize += f.Size
	}
	s.treeMu.RUnlock()

	backups, err := s.persist.BackupCount()
	if err != nil {
		return Stats{}, err
	}
	st.Backups = backups
	return st, nil
}

// Snapshot returns a deep copy of the whole tree.
func (s *Service) Snapshot() (*models.Tree, error) {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return nil, models.ErrStoreClosed
	}
	return s.tree.Clone(), nil
}
