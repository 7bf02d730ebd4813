package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/arcvault/arcvault/internal/crypto"
	"github.com/arcvault/arcvault/internal/models"
	"github.com/arcvault/arcvault/internal/secure"
)

// FolderGuard answers whether a protected folder is currently unlocked
// and hands out its key. The store never sees folder passwords; it asks
// the guard at the moment a file key must be wrapped or unwrapped.
type FolderGuard interface {
	Unlocked(folderID string) bool
	FolderKey(folderID string) ([]byte, error)
}

// headProbeSize bounds the content read used for type detection.
const headProbeSize = 512

const blobExt = ".arc"

// Executors below run on the worker goroutine with the tree lock held.
// They mutate the tree in place; the transaction layer owns snapshot
// and rollback.

// execAddFile encrypts src into a fresh blob and records the file under
// parentID. Returns the node and the absolute blob path so a rollback
// can shred it.
func (s *Service) execAddFile(tree *models.Tree, src, name, parentID string) (*models.FileNode, string, error) {
	const op = "add_file"

	if parentID == "" {
		parentID = tree.RootID
	}
	parent, ok := tree.Folder(parentID)
	if !ok {
		return nil, "", &models.StoreError{Code: models.ErrCodeNotFound, Op: op, ID: parentID, Err: models.ErrNotFound}
	}
	if parent.Protected && (s.guard == nil || !s.guard.Unlocked(parent.ID)) {
		return nil, "", &models.StoreError{Code: models.ErrCodePermission, Op: op, ID: parent.ID, Err: models.ErrFolderLocked}
	}

	info, err := os.Stat(src)
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeNotFound, Op: op, ID: src, Err: err}
	}
	if info.IsDir() {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: src, Err: errors.New("source is a directory")}
	}

	if name == "" {
		name = filepath.Base(src)
	}
	name = strings.TrimSpace(norm.NFKC.String(name))
	if name == "" {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: errors.New("empty file name")}
	}

	kek, err := s.kekFor(parent)
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodePermission, Op: op, ID: parent.ID, Err: err}
	}
	defer secure.Wipe(kek)

	fileKey, err := crypto.NewKey()
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}
	defer secure.Wipe(fileKey)

	wrapped, err := crypto.Seal(fileKey, kek)
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: src, Err: err}
	}
	defer in.Close()

	head := make([]byte, headProbeSize)
	n, err := io.ReadFull(in, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: src, Err: err}
	}
	kind := models.DetectKind(name, head[:n])
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: src, Err: err}
	}

	mode := crypto.ModeForSize(info.Size(), s.cfg.StreamThreshold)
	blobName := uuid.NewString() + blobExt
	blobAbs := filepath.Join(s.cfg.ObjectsDir(), blobName)

	hash, size, err := s.writeBlob(blobAbs, in, fileKey, wrapped, mode)
	if err != nil {
		return nil, "", &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: src, Err: err}
	}

	node := &models.FileNode{
		ID:       uuid.NewString(),
		Name:     name,
		BlobPath: blobName,
		FolderID: parent.ID,
		Size:     size,
		SHA256:   hash,
		Kind:     kind,
		AddedAt:  time.Now().UTC(),
	}
	tree.Files[node.ID] = node
	parent.AddChild(node.ID)

	return node, blobAbs, nil
}

// writeBlob streams header and sealed body to a temp file and renames
// it into place.
func (s *Service) writeBlob(blobAbs string, src io.Reader, fileKey, wrapped []byte, mode byte) (string, int64, error) {
	tmpPath := fmt.Sprintf("%s.tmp.%d", blobAbs, time.Now().UnixNano())
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	committed := false
	defer func() {
		out.Close()
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	header := &crypto.FileHeader{Version: crypto.FileFormatVersion, Mode: mode, WrappedKey: wrapped}
	if err := crypto.WriteFileHeader(out, header); err != nil {
		return "", 0, err
	}

	hash, size, err := crypto.EncryptBody(out, src, fileKey, mode)
	if err != nil {
		return "", 0, fmt.Errorf("encrypt body: %w", err)
	}

	if err := out.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, blobAbs); err != nil {
		return "", 0, fmt.Errorf("place blob: %w", err)
	}

	committed = true
	return hash, size, nil
}

// extractBlob decrypts a resolved file to destPath. The plaintext
// lands in the vault temp directory first and moves out only after its
// digest matches the recorded one. Runs without the tree lock; the
// caller passes copies.
func (s *Service) extractBlob(file *models.FileNode, folder *models.FolderNode, destPath string) error {
	const op = "extract_file"

	if folder != nil && folder.Protected && (s.guard == nil || !s.guard.Unlocked(folder.ID)) {
		return &models.StoreError{Code: models.ErrCodePermission, Op: op, ID: folder.ID, Err: models.ErrFolderLocked}
	}

	kek, err := s.kekFor(folder)
	if err != nil {
		return &models.StoreError{Code: models.ErrCodePermission, Op: op, ID: file.FolderID, Err: err}
	}
	defer secure.Wipe(kek)

	in, err := os.Open(filepath.Join(s.cfg.ObjectsDir(), file.BlobPath))
	if err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: file.ID, Err: err}
	}
	defer in.Close()

	header, err := crypto.ReadFileHeader(in)
	if err != nil {
		return &models.StoreError{Code: models.ErrCodeDecryption, Op: op, ID: file.ID, Err: err}
	}

	fileKey, err := crypto.Open(header.WrappedKey, kek)
	if err != nil {
		return &models.StoreError{Code: models.ErrCodeDecryption, Op: op, ID: file.ID, Err: err}
	}
	defer secure.Wipe(fileKey)

	if err := os.MkdirAll(s.cfg.TempDir(), 0700); err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}
	tmp, err := os.CreateTemp(s.cfg.TempDir(), "extract-*")
	if err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			// Partial plaintext never survives a failed extract.
			_ = secure.Shred(tmpPath)
		}
	}()

	hash, _, err := crypto.DecryptBody(tmp, in, fileKey, header.Mode)
	if err != nil {
		return &models.StoreError{Code: models.ErrCodeDecryption, Op: op, ID: file.ID, Err: err}
	}
	if hash != file.SHA256 {
		return &models.IntegrityError{Path: file.Name, Expected: file.SHA256, Actual: hash}
	}

	if err := tmp.Sync(); err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: err}
		}
	}
	if err := moveFile(tmpPath, destPath); err != nil {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: file.ID, Err: err}
	}

	committed = true
	return nil
}

// execDeleteFile removes the tree entry and returns the absolute blob
// path. The caller shreds the blob only after the shrunken tree is
// safely persisted.
func (s *Service) execDeleteFile(tree *models.Tree, fileID string) (string, error) {
	file, ok := tree.File(fileID)
	if !ok {
		return "", &models.StoreError{Code: models.ErrCodeNotFound, Op: "delete_file", ID: fileID, Err: models.ErrNotFound}
	}

	if parent, ok := tree.Folder(file.FolderID); ok {
		parent.RemoveChild(fileID)
	}
	delete(tree.Files, fileID)

	return filepath.Join(s.cfg.ObjectsDir(), file.BlobPath), nil
}

// execCreateFolder records a new folder under parentID.
func (s *Service) execCreateFolder(tree *models.Tree, name, parentID string) (*models.FolderNode, error) {
	const op = "create_folder"

	if parentID == "" {
		parentID = tree.RootID
	}
	parent, ok := tree.Folder(parentID)
	if !ok {
		return nil, &models.StoreError{Code: models.ErrCodeNotFound, Op: op, ID: parentID, Err: models.ErrNotFound}
	}

	name = strings.TrimSpace(norm.NFKC.String(name))
	if name == "" {
		return nil, &models.StoreError{Code: models.ErrCodeStorage, Op: op, Err: errors.New("empty folder name")}
	}

	node := &models.FolderNode{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parent.ID,
		ChildIDs:  []string{},
		CreatedAt: time.Now().UTC(),
	}
	tree.Folders[node.ID] = node
	parent.AddChild(node.ID)

	return node, nil
}

// execDeleteFolder removes an empty, non-root folder.
func (s *Service) execDeleteFolder(tree *models.Tree, folderID string) error {
	const op = "delete_folder"

	folder, ok := tree.Folder(folderID)
	if !ok {
		return &models.StoreError{Code: models.ErrCodeNotFound, Op: op, ID: folderID, Err: models.ErrNotFound}
	}
	if folderID == tree.RootID {
		return &models.StoreError{Code: models.ErrCodePermission, Op: op, ID: folderID, Err: errors.New("cannot delete root folder")}
	}
	if len(folder.ChildIDs) > 0 {
		return &models.StoreError{Code: models.ErrCodeStorage, Op: op, ID: folderID, Err: errors.New("folder not empty")}
	}

	if parent, ok := tree.Folder(folder.ParentID); ok {
		parent.RemoveChild(folderID)
	}
	delete(tree.Folders, folderID)

	return nil
}

// execVerify sweeps every file blob and folder reference. Files in
// locked protected folders get a header-only check; the body needs a
// key the guard will not hand out.
func (s *Service) execVerify(tree *models.Tree) []models.Issue {
	var issues []models.Issue

	fileIDs := make([]string, 0, len(tree.Files))
	for id := range tree.Files {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)

	for _, id := range fileIDs {
		file := tree.Files[id]
		folder := tree.Folders[file.FolderID]
		locked := folder != nil && folder.Protected && (s.guard == nil || !s.guard.Unlocked(folder.ID))
		if issue := s.checkFile(file, folder, locked); issue != nil {
			issues = append(issues, *issue)
		}
	}

	folderIDs := make([]string, 0, len(tree.Folders))
	for id := range tree.Folders {
		folderIDs = append(folderIDs, id)
	}
	sort.Strings(folderIDs)

	for _, id := range folderIDs {
		folder := tree.Folders[id]
		if id == tree.RootID {
			continue
		}
		if _, ok := tree.Folders[folder.ParentID]; !ok {
			issues = append(issues, models.Issue{ID: id, Name: folder.Name, Reason: "parent folder missing"})
		}
	}

	return issues
}

func (s *Service) checkFile(file *models.FileNode, folder *models.FolderNode, locked bool) *models.Issue {
	in, err := os.Open(filepath.Join(s.cfg.ObjectsDir(), file.BlobPath))
	if err != nil {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "blob missing or unreadable"}
	}
	defer in.Close()

	header, err := crypto.ReadFileHeader(in)
	if err != nil {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "malformed blob header"}
	}

	if locked {
		return nil
	}

	kek, err := s.kekFor(folder)
	if err != nil {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "folder key unavailable"}
	}
	defer secure.Wipe(kek)

	fileKey, err := crypto.Open(header.WrappedKey, kek)
	if err != nil {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "file key cannot be unwrapped"}
	}
	defer secure.Wipe(fileKey)

	hash, _, err := crypto.DecryptBody(io.Discard, in, fileKey, header.Mode)
	if err != nil {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "blob cannot be decrypted"}
	}
	if hash != file.SHA256 {
		return &models.Issue{ID: file.ID, Name: file.Name, Reason: "checksum mismatch"}
	}

	return nil
}

// kekFor picks the key that wraps file keys in this folder: the folder
// key when protection is on, the master key otherwise.
func (s *Service) kekFor(folder *models.FolderNode) ([]byte, error) {
	if folder != nil && folder.Protected {
		if s.guard == nil {
			return nil, models.ErrFolderLocked
		}
		return s.guard.FolderKey(folder.ID)
	}
	return s.registry.MasterKey()
}

// moveFile renames src over dst, falling back to a copy for
// cross-device destinations. The fallback shreds the source.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = secure.Shred(dst)
		return fmt.Errorf("copy to destination: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	in.Close()
	return secure.Shred(src)
}
