// Package contentstore deduplicates identical support assemblies across test
// directories so they are uploaded once as a shared correlation payload
// instead of once per work item.
package contentstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/test-queue-runner/pkg/clrmetadata"
	"github.com/openshift/test-queue-runner/pkg/results"
)

// IdentityReader returns the content identity of the module at path.
type IdentityReader func(path string) (uuid.UUID, error)

// AssemblyRecord is one distinct module content seen during a scan.
type AssemblyRecord struct {
	ContentID     uuid.UUID
	CanonicalPath string
	UseCount      int
}

// IncludeInDedup is true when more than one directory references the content.
func (r AssemblyRecord) IncludeInDedup() bool {
	return r.UseCount > 1
}

// SharedName is the file name of the record inside the shared payload.
func (r AssemblyRecord) SharedName() string {
	return r.ContentID.String()
}

// Store indexes modules by content identity and by path. It is populated by
// Scan and becomes read-only once the shared payload is built or resolved
// against.
type Store struct {
	readIdentity IdentityReader

	records []AssemblyRecord
	byID    map[uuid.UUID]int
	byPath  map[string]int
	scanned sets.Set[string]
	frozen  bool
}

// New returns an empty Store reading identities with clrmetadata.ReadMVID.
func New() *Store {
	return NewWithReader(clrmetadata.ReadMVID)
}

// NewWithReader returns an empty Store using the given identity reader.
func NewWithReader(reader IdentityReader) *Store {
	return &Store{
		readIdentity: reader,
		byID:         map[uuid.UUID]int{},
		byPath:       map[string]int{},
		scanned:      sets.New[string](),
	}
}

// Scan walks every directory recursively and records the modules it finds.
// A directory that cannot be walked does not stop the others; its error is
// part of the returned aggregate.
func (s *Store) Scan(directories ...string) error {
	if s.frozen {
		return errors.New("content store is read-only once the shared payload has been used")
	}
	var errs []error
	for _, directory := range directories {
		if err := s.scanDirectory(directory); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (s *Store) scanDirectory(directory string) error {
	root, err := canonicalPath(directory)
	if err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not resolve %s", directory)
	}
	if s.scanned.Has(root) {
		logrus.WithField("directory", root).Debug("Directory already scanned, not counting its modules again.")
		return nil
	}

	// nothing is recorded until the whole directory has been walked
	type module struct {
		path string
		id   uuid.UUID
	}
	var modules []module
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isModule(path) {
			return nil
		}
		id, err := s.readIdentity(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Debug("Excluding module without a readable identity from deduplication.")
			return nil
		}
		modules = append(modules, module{path: path, id: id})
		return nil
	})
	if walkErr != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(walkErr).Errorf("could not scan %s", root)
	}

	// a module is counted once per directory even if it appears in several
	// of its subdirectories
	seen := sets.New[uuid.UUID]()
	for _, m := range modules {
		index, ok := s.byID[m.id]
		if !ok {
			s.records = append(s.records, AssemblyRecord{ContentID: m.id, CanonicalPath: m.path})
			index = len(s.records) - 1
			s.byID[m.id] = index
		}
		if !seen.Has(m.id) {
			s.records[index].UseCount++
			seen.Insert(m.id)
		}
		s.byPath[m.path] = index
	}
	s.scanned.Insert(root)
	return nil
}

// BuildSharedPayload places every record included in deduplication into
// targetDir, named by its content identity.
func (s *Store) BuildSharedPayload(targetDir string) error {
	s.frozen = true
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not create shared payload directory")
	}
	for _, record := range s.Records() {
		if !record.IncludeInDedup() {
			continue
		}
		if err := linkOrCopy(record.CanonicalPath, filepath.Join(targetDir, record.SharedName())); err != nil {
			return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not add %s to the shared payload", record.CanonicalPath)
		}
	}
	return nil
}

// Resolve returns the shared name of the module at path if it is part of
// the shared payload.
func (s *Store) Resolve(path string) (string, bool) {
	s.frozen = true
	canonical, err := canonicalPath(path)
	if err != nil {
		return "", false
	}
	index, ok := s.byPath[canonical]
	if !ok || !s.records[index].IncludeInDedup() {
		return "", false
	}
	return s.records[index].SharedName(), true
}

// Records returns a copy of all records ordered by content identity.
func (s *Store) Records() []AssemblyRecord {
	ret := make([]AssemblyRecord, len(s.records))
	copy(ret, s.records)
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].SharedName() < ret[j].SharedName()
	})
	return ret
}

func isModule(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dll", ".exe":
		return true
	}
	return false
}

func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func linkOrCopy(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		return nil
	}
	if err := os.Link(source, destination); err == nil {
		return nil
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("could not copy %s: %w", source, err)
	}
	return out.Close()
}
