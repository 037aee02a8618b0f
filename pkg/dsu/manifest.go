package dsu

import (
	"encoding/json"
	"sort"

	"github.com/marmos91/dittodsu/pkg/fault"
)

// ManifestPath is the file holding a unit's mount table.
const ManifestPath = "/manifest"

// Manifest is the mount table of a unit: mount path -> identifier string.
// Mount paths are absolute ("/apps/x").
type Manifest struct {
	Mounts map[string]string `json:"mounts"`
}

// readManifest loads the manifest stored in c, or an empty one.
func readManifest(c *Content) (*Manifest, error) {
	m := &Manifest{Mounts: make(map[string]string)}
	entry, ok := c.Files[NormalizePath(ManifestPath)]
	if !ok || len(entry.Content) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(entry.Content, m); err != nil {
		return nil, fault.Classify(fault.DataInput, err, "malformed manifest")
	}
	if m.Mounts == nil {
		m.Mounts = make(map[string]string)
	}
	return m, nil
}

func (m *Manifest) encode() ([]byte, error) {
	return json.Marshal(m)
}

// MountPoint is one manifest entry.
type MountPoint struct {
	Path       string
	Identifier string
}

// sorted returns the entries ordered by path.
func (m *Manifest) sorted() []MountPoint {
	out := make([]MountPoint, 0, len(m.Mounts))
	for p, id := range m.Mounts {
		out = append(out, MountPoint{Path: p, Identifier: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
