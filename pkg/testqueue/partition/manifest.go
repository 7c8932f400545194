package partition

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ManifestSuffix is appended to the assembly path to find its test list.
const ManifestSuffix = ".testlist.yaml"

// TestClass is a test class and its test methods, in discovery order.
type TestClass struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
}

// MethodLister enumerates the test classes of an assembly.
type MethodLister interface {
	ListTestClasses(assemblyPath string) ([]TestClass, error)
}

type testList struct {
	Types []TestClass `json:"types"`
}

// ManifestLister reads the test list the build writes next to each test
// assembly.
type ManifestLister struct{}

func (ManifestLister) ListTestClasses(assemblyPath string) ([]TestClass, error) {
	raw, err := os.ReadFile(assemblyPath + ManifestSuffix)
	if err != nil {
		return nil, fmt.Errorf("could not read test list: %w", err)
	}
	var list testList
	if err := yaml.UnmarshalStrict(raw, &list); err != nil {
		return nil, fmt.Errorf("could not parse test list %s: %w", assemblyPath+ManifestSuffix, err)
	}
	for i, class := range list.Types {
		if class.Name == "" {
			return nil, fmt.Errorf("test list %s: type %d has no name", assemblyPath+ManifestSuffix, i)
		}
	}
	return list.Types, nil
}

// WriteManifest writes the test list of an assembly.
func WriteManifest(assemblyPath string, classes []TestClass) error {
	raw, err := yaml.Marshal(testList{Types: classes})
	if err != nil {
		return err
	}
	return os.WriteFile(assemblyPath+ManifestSuffix, raw, 0644)
}
