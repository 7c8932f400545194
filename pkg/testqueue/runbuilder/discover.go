package runbuilder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-zglob"

	"k8s.io/apimachinery/pkg/util/sets"
)

// DiscoverAssemblies expands the globs relative to root. The result is
// sorted and holds every assembly once.
func DiscoverAssemblies(root string, globs []string) ([]string, error) {
	found := sets.New[string]()
	for _, glob := range globs {
		pattern := glob
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, glob)
		}
		matches, err := zglob.Glob(pattern)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("could not expand %s: %w", glob, err)
		}
		found.Insert(matches...)
	}
	return sets.List(found), nil
}
