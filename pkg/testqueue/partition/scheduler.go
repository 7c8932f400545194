// Package partition splits the test methods of a large assembly into
// bounded work units.
package partition

import (
	"strings"

	"github.com/sirupsen/logrus"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/test-queue-runner/pkg/clrmetadata"
	"github.com/openshift/test-queue-runner/pkg/results"
)

// DefaultMethodLimit is the number of test methods per partition.
const DefaultMethodLimit = 50

// Info is one partition of an assembly.
type Info struct {
	AssemblyPath  string
	TestMethodIDs []string
	MethodLimit   int
	ClassNames    []string
	// Arguments selects the classes of the partition for the test runner.
	// It is empty when the partition is the whole assembly.
	Arguments string
}

type Scheduler struct {
	MethodLimit int
	Lister      MethodLister
}

func NewScheduler(methodLimit int) *Scheduler {
	return &Scheduler{MethodLimit: methodLimit, Lister: ManifestLister{}}
}

// Schedule packs the test classes of the assembly, in discovery order, into
// partitions of at most MethodLimit methods. A class is never split: a class
// with more methods than the limit gets a partition of its own.
func (s *Scheduler) Schedule(assemblyPath string) ([]Info, error) {
	if s.MethodLimit <= 0 {
		return nil, results.ForReason(results.ReasonAssemblyUnreadable).Errorf("method limit must be positive, got %d", s.MethodLimit)
	}
	if _, err := clrmetadata.ReadMVID(assemblyPath); err != nil {
		return nil, results.ForReason(results.ReasonAssemblyUnreadable).WithError(err).Errorf("could not inspect %s", assemblyPath)
	}
	classes, err := s.Lister.ListTestClasses(assemblyPath)
	if err != nil {
		return nil, results.ForReason(results.ReasonAssemblyUnreadable).WithError(err).Errorf("could not list tests of %s", assemblyPath)
	}

	var partitions []Info
	current := Info{AssemblyPath: assemblyPath, MethodLimit: s.MethodLimit}
	for _, class := range mergeClasses(classes) {
		methods := class.Methods
		if len(methods) == 0 {
			continue
		}
		if len(current.TestMethodIDs) > 0 && len(current.TestMethodIDs)+len(methods) > s.MethodLimit {
			partitions = append(partitions, current)
			current = Info{AssemblyPath: assemblyPath, MethodLimit: s.MethodLimit}
		}
		if len(methods) > s.MethodLimit {
			logrus.WithField("class", class.Name).Debugf("Class has %d methods, more than the limit of %d; it gets a partition of its own.", len(methods), s.MethodLimit)
		}
		current.TestMethodIDs = append(current.TestMethodIDs, methods...)
		current.ClassNames = append(current.ClassNames, class.Name)
	}
	// an assembly without listed tests still runs once, as a whole
	if len(current.TestMethodIDs) > 0 || len(partitions) == 0 {
		partitions = append(partitions, current)
	}

	if len(partitions) > 1 {
		for i := range partitions {
			partitions[i].Arguments = classArguments(partitions[i].ClassNames)
		}
	}
	return partitions, nil
}

// mergeClasses folds repeated listings of a class into its first one and
// drops repeated methods, so that every class lands in a single partition.
// The returned methods are fully qualified.
func mergeClasses(classes []TestClass) []TestClass {
	var merged []TestClass
	index := map[string]int{}
	seen := sets.New[string]()
	for _, class := range classes {
		i, ok := index[class.Name]
		if !ok {
			i = len(merged)
			index[class.Name] = i
			merged = append(merged, TestClass{Name: class.Name})
		}
		for _, method := range class.Methods {
			id := class.Name + "." + method
			if seen.Has(id) {
				continue
			}
			seen.Insert(id)
			merged[i].Methods = append(merged[i].Methods, id)
		}
	}
	return merged
}

func classArguments(classNames []string) string {
	args := make([]string, 0, len(classNames))
	for _, name := range classNames {
		args = append(args, "-class "+name)
	}
	return strings.Join(args, " ")
}
