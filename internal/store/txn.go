package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/arcvault/arcvault/internal/audit"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// Staged operation kinds.
const (
	opAddFile      = "add_file"
	opCreateFolder = "create_folder"
	opDeleteFile   = "delete_file"
	opDeleteFolder = "delete_folder"
)

type stagedOp struct {
	kind     string
	src      string // add_file: plaintext source path
	name     string // add_file, create_folder: display name
	parentID string // add_file, create_folder: destination folder
	id       string // delete_file, delete_folder: target node
}

type txnState int

const (
	txnStaged txnState = iota
	txnExecuting
	txnCommitted
	txnFailed
)

// Transaction stages operations locally and applies them atomically on
// Commit: either every operation lands and the tree is persisted, or
// the tree and its persisted state return to how they were before
// Commit was called. A finished transaction rejects further use.
type Transaction struct {
	store *Service
	desc  string

	mu    sync.Mutex
	ops   []stagedOp
	state txnState
}

// Begin starts an empty transaction. Dropping it without Commit
// abandons the staged operations; nothing has executed yet.
func (s *Service) Begin(desc string) *Transaction {
	return &Transaction{store: s, desc: desc}
}

func (t *Transaction) stage(op stagedOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != txnStaged {
		return models.ErrTxnFinished
	}
	t.ops = append(t.ops, op)
	return nil
}

// AddFile stages an encrypt-and-store of src under parentID. An empty
// name takes the source base name; an empty parentID targets the root.
func (t *Transaction) AddFile(src, name, parentID string) error {
	return t.stage(stagedOp{kind: opAddFile, src: src, name: name, parentID: parentID})
}

// CreateFolder stages a folder creation under parentID.
func (t *Transaction) CreateFolder(name, parentID string) error {
	return t.stage(stagedOp{kind: opCreateFolder, name: name, parentID: parentID})
}

// DeleteFile stages removal of a file. The blob is shredded only after
// the whole transaction persists.
func (t *Transaction) DeleteFile(fileID string) error {
	return t.stage(stagedOp{kind: opDeleteFile, id: fileID})
}

// DeleteFolder stages removal of an empty folder.
func (t *Transaction) DeleteFolder(folderID string) error {
	return t.stage(stagedOp{kind: opDeleteFolder, id: folderID})
}

// Ops returns the number of staged operations.
func (t *Transaction) Ops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit executes the staged operations in order on the store's worker.
// It returns one result per operation: the created node's id for
// add_file and create_folder, "" for deletes. On failure the error
// wraps a TransactionError naming the operation that failed.
func (t *Transaction) Commit() ([]string, error) {
	t.mu.Lock()
	if t.state != txnStaged {
		t.mu.Unlock()
		return nil, models.ErrTxnFinished
	}
	t.state = txnExecuting
	ops := t.ops
	t.mu.Unlock()

	results, err := t.store.submitTransaction(ops, t.desc)

	t.mu.Lock()
	if err != nil {
		t.state = txnFailed
	} else {
		t.state = txnCommitted
	}
	t.mu.Unlock()

	return results, err
}

func (s *Service) submitTransaction(ops []stagedOp, desc string) ([]string, error) {
	out, err := s.submit(func() (interface{}, error) {
		return s.runTransaction(ops, desc)
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// pendingShred is a blob whose physical removal waits until the
// shrunken tree is safely on disk.
type pendingShred struct {
	fileID string
	blob   string
}

// runTransaction executes on the worker goroutine. The locked phase
// mutates and persists the tree; shredding and journaling happen after
// the tree lock is released.
func (s *Service) runTransaction(ops []stagedOp, desc string) ([]string, error) {
	results, shreds, err := s.applyOps(ops)
	if err != nil {
		var txErr *models.TransactionError
		if errors.As(err, &txErr) {
			s.audit(audit.EventTransactionRollback, map[string]interface{}{
				"description": desc,
				"operation":   txErr.Op,
				"index":       txErr.Index,
			})
		}
		return nil, err
	}

	for _, ps := range shreds {
		lock := s.entityLock(ps.fileID)
		lock.Lock()
		if err := secure.Shred(ps.blob); err != nil {
			s.logger.WithError(err).WithField("blob", ps.blob).Warn("Blob shred failed")
		}
		lock.Unlock()
	}

	s.auditOps(ops, results)
	return results, nil
}

// applyOps snapshots the persisted state, runs the operations in
// order, and persists the result. A failure at any point restores both
// the in-memory tree and the tree file without touching a backup.
func (s *Service) applyOps(ops []stagedOp) ([]string, []pendingShred, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	snapshotTree := s.tree.Clone()
	snapshotBytes, err := s.persist.Snapshot(s.tree)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot before transaction: %w", err)
	}

	results := make([]string, len(ops))
	var addedBlobs []string
	var shreds []pendingShred

	for i, op := range ops {
		var opErr error

		switch op.kind {
		case opAddFile:
			node, blobAbs, err := s.execAddFile(s.tree, op.src, op.name, op.parentID)
			if err == nil {
				results[i] = node.ID
				addedBlobs = append(addedBlobs, blobAbs)
			}
			opErr = err
		case opCreateFolder:
			node, err := s.execCreateFolder(s.tree, op.name, op.parentID)
			if err == nil {
				results[i] = node.ID
			}
			opErr = err
		case opDeleteFile:
			blobAbs, err := s.execDeleteFile(s.tree, op.id)
			if err == nil {
				shreds = append(shreds, pendingShred{fileID: op.id, blob: blobAbs})
			}
			opErr = err
		case opDeleteFolder:
			opErr = s.execDeleteFolder(s.tree, op.id)
		default:
			opErr = fmt.Errorf("unknown operation %q", op.kind)
		}

		if opErr != nil {
			return nil, nil, s.failTransaction(snapshotTree, snapshotBytes, addedBlobs, op.kind, i, opErr)
		}
	}

	if _, err := s.persist.Save(s.tree); err != nil {
		return nil, nil, s.failTransaction(snapshotTree, snapshotBytes, addedBlobs, "persist", len(ops), err)
	}

	return results, shreds, nil
}

// failTransaction rolls back and shapes the error. A rollback failure
// composes into the returned error rather than replacing it.
func (s *Service) failTransaction(snapshotTree *models.Tree, snapshotBytes []byte, addedBlobs []string, opKind string, index int, opErr error) error {
	rbErr := s.rollback(snapshotTree, snapshotBytes, addedBlobs)

	s.logger.WithError(opErr).WithFields(map[string]interface{}{
		"operation": opKind,
		"index":     index,
	}).Warn("Transaction rolled back")

	txErr := &models.TransactionError{Op: opKind, Index: index, Err: opErr}
	if rbErr != nil {
		return fmt.Errorf("%w (rollback also failed: %v)", txErr, rbErr)
	}
	return txErr
}

// rollback restores the cloned tree and the snapshot bytes, then
// shreds blobs written by operations that had completed.
func (s *Service) rollback(snapshotTree *models.Tree, snapshotBytes []byte, addedBlobs []string) error {
	s.tree = snapshotTree

	for _, blob := range addedBlobs {
		if err := secure.Shred(blob); err != nil {
			s.logger.WithError(err).WithField("blob", blob).Warn("Rollback blob shred failed")
		}
	}

	if err := s.persist.Promote(snapshotBytes); err != nil {
		return fmt.Errorf("restore persisted tree: %w", err)
	}
	return nil
}

// auditOps journals each committed operation.
func (s *Service) auditOps(ops []stagedOp, results []string) {
	for i, op := range ops {
		switch op.kind {
		case opAddFile:
			detail := map[string]interface{}{"file_id": results[i]}
			if name := s.nodeName(results[i]); name != "" {
				detail["name"] = name
			}
			s.audit(audit.EventFileAdded, detail)
		case opCreateFolder:
			detail := map[string]interface{}{"folder_id": results[i]}
			if name := s.nodeName(results[i]); name != "" {
				detail["name"] = name
			}
			s.audit(audit.EventFolderCreated, detail)
		case opDeleteFile:
			s.audit(audit.EventFileDeleted, map[string]interface{}{"file_id": op.id})
		case opDeleteFolder:
			s.audit(audit.EventFolderDeleted, map[string]interface{}{"folder_id": op.id})
		}
	}
}

func (s *Service) nodeName(id string) string {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()

	if s.tree == nil {
		return ""
	}
	if node, ok := s.tree.File(id); ok {
		return node.Name
	}
	if node, ok := s.tree.Folder(id); ok {
		return node.Name
	}
	return ""
}
