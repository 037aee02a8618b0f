package dsu

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"
)

// RootFolder is the key of the root folder entry.
const RootFolder = "/"

// FileEntry is one file of a unit.
type FileEntry struct {
	// Content is the raw file content (base64 in JSON).
	Content []byte `json:"content"`

	CTime int64 `json:"ctime"`
	MTime int64 `json:"mtime"`
	ATime int64 `json:"atime"`
}

// FolderEntry is one folder of a unit.
type FolderEntry struct {
	CTime int64 `json:"ctime"`
	MTime int64 `json:"mtime"`
	ATime int64 `json:"atime"`
}

// Content is the whole file tree of a unit. It is persisted as one JSON
// document.
//
// Keys are slash-normalized paths without a leading slash ("a/b.txt"); the
// root folder is "/". Timestamps are unix milliseconds.
type Content struct {
	Files   map[string]*FileEntry   `json:"files"`
	Folders map[string]*FolderEntry `json:"folders"`
}

// NewContent returns an empty tree.
func NewContent() *Content {
	return &Content{
		Files:   make(map[string]*FileEntry),
		Folders: make(map[string]*FolderEntry),
	}
}

// DecodeContent parses a persisted tree. Empty input yields an empty tree.
func DecodeContent(data []byte) (*Content, error) {
	c := NewContent()
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if c.Files == nil {
		c.Files = make(map[string]*FileEntry)
	}
	if c.Folders == nil {
		c.Folders = make(map[string]*FolderEntry)
	}
	return c, nil
}

// Encode serializes the tree.
func (c *Content) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Clone returns a deep copy.
func (c *Content) Clone() *Content {
	out := NewContent()
	for k, f := range c.Files {
		cp := *f
		cp.Content = append([]byte(nil), f.Content...)
		out.Files[k] = &cp
	}
	for k, d := range c.Folders {
		cp := *d
		out.Folders[k] = &cp
	}
	return out
}

// NormalizePath cleans p into content key form.
//
// "/a//b/../c.txt" -> "a/c.txt", "" and "/" -> "/".
func NormalizePath(p string) string {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return RootFolder
	}
	return cleaned[1:]
}

// absPath returns the normalized path with a leading slash, the form used
// for mount points.
func absPath(p string) string {
	n := NormalizePath(p)
	if n == RootFolder {
		return RootFolder
	}
	return "/" + n
}

// isUnder reports whether key is strictly inside folder (both normalized).
func isUnder(key, folder string) bool {
	if folder == RootFolder {
		return key != RootFolder
	}
	return strings.HasPrefix(key, folder+"/")
}

// relativeTo returns key relative to folder (both normalized, key under folder).
func relativeTo(key, folder string) string {
	if folder == RootFolder {
		return key
	}
	return strings.TrimPrefix(key, folder+"/")
}

func parentOf(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return RootFolder
	}
	return dir
}

// ============================================================================
// Content handler
// ============================================================================

// ensureFolders creates every missing ancestor folder of key (and key itself
// when includeSelf), stamped with now.
func (c *Content) ensureFolders(key string, includeSelf bool, now int64) {
	var chain []string
	if includeSelf {
		chain = append(chain, key)
	}
	for p := key; p != RootFolder; {
		p = parentOf(p)
		chain = append(chain, p)
	}
	for _, p := range chain {
		if _, ok := c.Folders[p]; !ok {
			c.Folders[p] = &FolderEntry{CTime: now, MTime: now, ATime: now}
		}
	}
}

// touchParent bumps the mtime of the folder holding key.
func (c *Content) touchParent(key string, now int64) {
	if d, ok := c.Folders[parentOf(key)]; ok {
		d.MTime = now
	}
}

// WriteFile stores data at p, creating missing folders.
func (c *Content) WriteFile(p string, data []byte, now time.Time) error {
	key := NormalizePath(p)
	if key == RootFolder {
		return invalidPath(p)
	}
	if _, isFolder := c.Folders[key]; isFolder {
		return businessError(ErrIsFolder, key)
	}

	ts := now.UnixMilli()
	c.ensureFolders(key, false, ts)

	entry, ok := c.Files[key]
	if !ok {
		entry = &FileEntry{CTime: ts}
		c.Files[key] = entry
	}
	entry.Content = append([]byte(nil), data...)
	entry.MTime = ts
	entry.ATime = ts
	c.touchParent(key, ts)
	return nil
}

// AppendToFile appends data to the file at p, creating it when missing.
func (c *Content) AppendToFile(p string, data []byte, now time.Time) error {
	key := NormalizePath(p)
	entry, ok := c.Files[key]
	if !ok {
		return c.WriteFile(p, data, now)
	}
	ts := now.UnixMilli()
	entry.Content = append(entry.Content, data...)
	entry.MTime = ts
	entry.ATime = ts
	return nil
}

// ReadFile returns a copy of the file at p and stamps its atime.
func (c *Content) ReadFile(p string, now time.Time) ([]byte, error) {
	key := NormalizePath(p)
	entry, ok := c.Files[key]
	if !ok {
		if _, isFolder := c.Folders[key]; isFolder {
			return nil, businessError(ErrIsFolder, key)
		}
		return nil, notFound(key)
	}
	entry.ATime = now.UnixMilli()
	return append([]byte(nil), entry.Content...), nil
}

// HasFile reports whether a file exists at p.
func (c *Content) HasFile(p string) bool {
	_, ok := c.Files[NormalizePath(p)]
	return ok
}

// Exists reports whether a file or folder exists at p.
func (c *Content) Exists(p string) bool {
	key := NormalizePath(p)
	_, isFile := c.Files[key]
	_, isFolder := c.Folders[key]
	return isFile || isFolder
}

// matches returns every file and folder key equal to or under key.
func (c *Content) matches(key string) (files, folders []string) {
	for k := range c.Files {
		if k == key || isUnder(k, key) {
			files = append(files, k)
		}
	}
	for k := range c.Folders {
		if k == key || isUnder(k, key) {
			folders = append(folders, k)
		}
	}
	return files, folders
}

// Delete removes the file or folder at p. Folders are removed with every
// descendant. Deleting the root empties the tree.
func (c *Content) Delete(p string, now time.Time) error {
	key := NormalizePath(p)
	files, folders := c.matches(key)
	if len(files) == 0 && len(folders) == 0 {
		return notFound(key)
	}
	for _, k := range files {
		delete(c.Files, k)
	}
	for _, k := range folders {
		if k != RootFolder {
			delete(c.Folders, k)
		}
	}
	if key != RootFolder {
		c.touchParent(key, now.UnixMilli())
	}
	return nil
}

// copyTree copies src and its descendants to dst. Fails before mutating
// anything when src is missing or dst exists.
func (c *Content) copyTree(src, dst string, now time.Time) (files, folders []string, err error) {
	srcKey := NormalizePath(src)
	dstKey := NormalizePath(dst)
	if srcKey == RootFolder || dstKey == RootFolder {
		return nil, nil, invalidPath(src + " -> " + dst)
	}
	if srcKey == dstKey || isUnder(dstKey, srcKey) {
		return nil, nil, invalidPath(src + " -> " + dst)
	}

	files, folders = c.matches(srcKey)
	if len(files) == 0 && len(folders) == 0 {
		return nil, nil, notFound(srcKey)
	}
	if c.Exists(dstKey) {
		return nil, nil, businessError(ErrAlreadyExists, dstKey)
	}

	ts := now.UnixMilli()
	c.ensureFolders(dstKey, false, ts)

	rebase := func(k string) string {
		if k == srcKey {
			return dstKey
		}
		return dstKey + "/" + relativeTo(k, srcKey)
	}
	for _, k := range folders {
		cp := *c.Folders[k]
		c.Folders[rebase(k)] = &cp
	}
	for _, k := range files {
		f := c.Files[k]
		cp := *f
		cp.Content = append([]byte(nil), f.Content...)
		c.Files[rebase(k)] = &cp
	}
	c.touchParent(dstKey, ts)
	return files, folders, nil
}

// Rename moves the file or folder at src, with its descendants, to dst.
//
// Fails without changes when src is missing or dst exists.
func (c *Content) Rename(src, dst string, now time.Time) error {
	files, folders, err := c.copyTree(src, dst, now)
	if err != nil {
		return err
	}
	for _, k := range files {
		delete(c.Files, k)
	}
	for _, k := range folders {
		delete(c.Folders, k)
	}
	c.touchParent(NormalizePath(src), now.UnixMilli())
	return nil
}

// CloneFolder copies the folder at src, with its descendants, to dst.
func (c *Content) CloneFolder(src, dst string, now time.Time) error {
	if _, ok := c.Folders[NormalizePath(src)]; !ok {
		if c.HasFile(src) {
			return businessError(ErrIsFolder, NormalizePath(src))
		}
		return notFound(NormalizePath(src))
	}
	_, _, err := c.copyTree(src, dst, now)
	return err
}

// CreateFolder creates the folder at p and its missing ancestors. Creating an
// existing folder is a no-op.
func (c *Content) CreateFolder(p string, now time.Time) error {
	key := NormalizePath(p)
	if c.HasFile(key) {
		return businessError(ErrAlreadyExists, key)
	}
	c.ensureFolders(key, true, now.UnixMilli())
	return nil
}

// ListFiles returns the files under folder p, relative to p, sorted.
// Only direct children are returned unless recursive.
func (c *Content) ListFiles(p string, recursive bool) []string {
	key := NormalizePath(p)
	var out []string
	for k := range c.Files {
		if !isUnder(k, key) {
			continue
		}
		rel := relativeTo(k, key)
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// ListFolders returns the folders under folder p, relative to p, sorted.
func (c *Content) ListFolders(p string, recursive bool) []string {
	key := NormalizePath(p)
	var out []string
	for k := range c.Folders {
		if !isUnder(k, key) {
			continue
		}
		rel := relativeTo(k, key)
		if !recursive && strings.Contains(rel, "/") {
			continue
		}
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// EntryType distinguishes files from folders in Stat results.
type EntryType string

const (
	EntryFile   EntryType = "file"
	EntryFolder EntryType = "folder"
)

// Stat describes one entry.
type Stat struct {
	Type  EntryType
	Size  int
	CTime time.Time
	MTime time.Time
	ATime time.Time
}

// Stat returns the metadata of the entry at p.
func (c *Content) Stat(p string) (*Stat, error) {
	key := NormalizePath(p)
	if f, ok := c.Files[key]; ok {
		return &Stat{
			Type:  EntryFile,
			Size:  len(f.Content),
			CTime: time.UnixMilli(f.CTime),
			MTime: time.UnixMilli(f.MTime),
			ATime: time.UnixMilli(f.ATime),
		}, nil
	}
	if d, ok := c.Folders[key]; ok {
		return &Stat{
			Type:  EntryFolder,
			CTime: time.UnixMilli(d.CTime),
			MTime: time.UnixMilli(d.MTime),
			ATime: time.UnixMilli(d.ATime),
		}, nil
	}
	return nil, notFound(key)
}
