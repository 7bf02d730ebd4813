package models

import (
	"fmt"
	"time"
)

// FolderNode is a directory in the vault tree. Names are stored in the
// clear here because the whole tree record is sealed before it touches
// disk.
type FolderNode struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id,omitempty"` // empty for the root
	ChildIDs []string `json:"child_ids"`

	// Folder protection metadata. Set only when Protected is true.
	Protected    bool   `json:"protected,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"` // bcrypt
	KeySalt      string `json:"key_salt,omitempty"`      // base64
	WrappedKey   string `json:"wrapped_key,omitempty"`   // base64, folder key under derived key

	CreatedAt time.Time `json:"created_at"`
}

// AddChild appends an id if not already present.
func (f *FolderNode) AddChild(id string) {
	for _, c := range f.ChildIDs {
		if c == id {
			return
		}
	}
	f.ChildIDs = append(f.ChildIDs, id)
}

// RemoveChild drops an id from the child list.
func (f *FolderNode) RemoveChild(id string) {
	for i, c := range f.ChildIDs {
		if c == id {
			f.ChildIDs = append(f.ChildIDs[:i], f.ChildIDs[i+1:]...)
			return
		}
	}
}

// FileNode is a stored object. BlobPath names the ciphertext file
// relative to the objects directory; SHA256 is the plaintext digest
// used for integrity verification.
type FileNode struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	BlobPath string    `json:"blob_path"`
	FolderID string    `json:"folder_id"`
	Size     int64     `json:"size"`
	SHA256   string    `json:"sha256"`
	Kind     FileKind  `json:"kind"`
	AddedAt  time.Time `json:"added_at"`
}

// Tree is the in-memory directory structure of an open vault.
type Tree struct {
	RootID  string                 `json:"root_id"`
	Folders map[string]*FolderNode `json:"folders"`
	Files   map[string]*FileNode   `json:"files"`
}

// NewTree creates a tree containing only a root folder.
func NewTree(rootID string) *Tree {
	root := &FolderNode{
		ID:        rootID,
		Name:      "/",
		ChildIDs:  []string{},
		CreatedAt: time.Now().UTC(),
	}
	return &Tree{
		RootID:  rootID,
		Folders: map[string]*FolderNode{rootID: root},
		Files:   map[string]*FileNode{},
	}
}

// Root returns the root folder.
func (t *Tree) Root() *FolderNode {
	return t.Folders[t.RootID]
}

// Folder looks up a folder by id.
func (t *Tree) Folder(id string) (*FolderNode, bool) {
	f, ok := t.Folders[id]
	return f, ok
}

// File looks up a file by id.
func (t *Tree) File(id string) (*FileNode, bool) {
	f, ok := t.Files[id]
	return f, ok
}

// Clone returns a deep copy. Snapshots taken before a transaction and
// read-only views handed to callers both go through here.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		RootID:  t.RootID,
		Folders: make(map[string]*FolderNode, len(t.Folders)),
		Files:   make(map[string]*FileNode, len(t.Files)),
	}
	for id, f := range t.Folders {
		cf := *f
		cf.ChildIDs = append([]string(nil), f.ChildIDs...)
		clone.Folders[id] = &cf
	}
	for id, f := range t.Files {
		cf := *f
		clone.Files[id] = &cf
	}
	return clone
}

// Repair enforces referential integrity and returns a description of
// every change made: orphaned files and folders are reparented to the
// root, child ids that resolve to nothing are dropped, and missing
// child entries are restored.
func (t *Tree) Repair() []string {
	var repairs []string

	if t.Files == nil {
		t.Files = map[string]*FileNode{}
	}
	if t.Folders == nil {
		t.Folders = map[string]*FolderNode{}
	}

	root, ok := t.Folders[t.RootID]
	if !ok {
		root = &FolderNode{
			ID:        t.RootID,
			Name:      "/",
			ChildIDs:  []string{},
			CreatedAt: time.Now().UTC(),
		}
		t.Folders[t.RootID] = root
		repairs = append(repairs, "recreated missing root folder")
	}
	if root.ParentID != "" {
		root.ParentID = ""
		repairs = append(repairs, "cleared parent reference on root folder")
	}

	// Orphaned folders reparent to root.
	for id, folder := range t.Folders {
		if id == t.RootID {
			continue
		}
		if _, ok := t.Folders[folder.ParentID]; !ok || folder.ParentID == "" {
			folder.ParentID = t.RootID
			root.AddChild(id)
			repairs = append(repairs, fmt.Sprintf("reassigned orphaned folder %s to root", id))
		}
	}

	// Orphaned files reparent to root.
	for id, file := range t.Files {
		if _, ok := t.Folders[file.FolderID]; !ok {
			file.FolderID = t.RootID
			root.AddChild(id)
			repairs = append(repairs, fmt.Sprintf("reassigned orphaned file %s to root", id))
		}
	}

	// Child lists may only reference nodes that exist and that claim
	// this folder as parent.
	for id, folder := range t.Folders {
		kept := folder.ChildIDs[:0]
		seen := make(map[string]bool, len(folder.ChildIDs))
		for _, child := range folder.ChildIDs {
			if seen[child] {
				repairs = append(repairs, fmt.Sprintf("removed duplicate child %s from folder %s", child, id))
				continue
			}
			seen[child] = true

			if f, ok := t.Files[child]; ok && f.FolderID == id {
				kept = append(kept, child)
				continue
			}
			if d, ok := t.Folders[child]; ok && d.ParentID == id {
				kept = append(kept, child)
				continue
			}
			repairs = append(repairs, fmt.Sprintf("removed dangling child %s from folder %s", child, id))
		}
		folder.ChildIDs = kept
	}

	// Every node must appear in its parent's child list.
	for id, file := range t.Files {
		parent := t.Folders[file.FolderID]
		if !containsID(parent.ChildIDs, id) {
			parent.AddChild(id)
			repairs = append(repairs, fmt.Sprintf("restored missing child entry for file %s", id))
		}
	}
	for id, folder := range t.Folders {
		if id == t.RootID {
			continue
		}
		parent := t.Folders[folder.ParentID]
		if !containsID(parent.ChildIDs, id) {
			parent.AddChild(id)
			repairs = append(repairs, fmt.Sprintf("restored missing child entry for folder %s", id))
		}
	}

	return repairs
}

func containsID(ids []string, id string) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}
