// Package assets provides the library of known object meshes grasps are
// generated for.
package assets

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const modelFile = "model.urdf"

// meshCandidates are tried in order next to every model.urdf.
var meshCandidates = []string{"collision.obj", "collision.stl", "collision.off"}

type Entry struct {
	Name      string
	ModelPath string
	MeshPath  string
}

type Library struct {
	Root    string
	Entries []Entry
}

// LoadLibrary walks root and registers every directory holding a model.urdf
// as an object named after that directory.
func LoadLibrary(root string) (*Library, error) {
	lib := &Library{Root: root}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != modelFile {
			return nil
		}
		dir := filepath.Dir(path)
		meshPath := ""
		for _, candidate := range meshCandidates {
			p := filepath.Join(dir, candidate)
			if _, err := os.Stat(p); err == nil {
				meshPath = p
				break
			}
		}
		if meshPath == "" {
			log.Warn("[Assets] No collision mesh next to ", path)
			return nil
		}
		lib.Entries = append(lib.Entries, Entry{
			Name:      filepath.Base(dir),
			ModelPath: path,
			MeshPath:  meshPath,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk asset library %s", root)
	}
	if len(lib.Entries) == 0 {
		return nil, errors.Errorf("no objects found in asset library %s", root)
	}
	sort.Slice(lib.Entries, func(i, j int) bool {
		return lib.Entries[i].Name < lib.Entries[j].Name
	})
	return lib, nil
}

func (l *Library) Names() []string {
	names := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		names[i] = e.Name
	}
	return names
}

// Filter returns a library restricted to the given names, in library order.
// An empty list keeps every object.
func (l *Library) Filter(names []string) (*Library, error) {
	if len(names) == 0 {
		return l, nil
	}
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}
	res := &Library{Root: l.Root}
	for _, e := range l.Entries {
		if wanted[e.Name] {
			res.Entries = append(res.Entries, e)
			delete(wanted, e.Name)
		}
	}
	for n := range wanted {
		return nil, errors.Errorf("unknown object %q", n)
	}
	return res, nil
}

func (l *Library) Lookup(name string) (Entry, bool) {
	for _, e := range l.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
