package testqueuelib

import (
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"

	"github.com/openshift/test-queue-runner/pkg/helix"
	"github.com/openshift/test-queue-runner/pkg/testqueue/partition"
)

// Config is the optional configuration file shared by the commands.
// Flags that are set explicitly take precedence over it.
type Config struct {
	Queue QueueConfig `json:"queue,omitempty"`

	// AssemblyGlobs find the test assemblies of a full run, relative to the
	// source root.
	AssemblyGlobs []string `json:"assemblyGlobs,omitempty"`
	// PartitionedAssemblies are the file names of the assemblies large
	// enough to be split across work items.
	PartitionedAssemblies []string `json:"partitionedAssemblies,omitempty"`
	MethodLimit           int      `json:"methodLimit,omitempty"`
	// RunnerDirectory holds the console test runner copied next to every
	// assembly.
	RunnerDirectory string           `json:"runnerDirectory,omitempty"`
	WorkItemTimeout *metav1.Duration `json:"workItemTimeout,omitempty"`
}

type QueueConfig struct {
	OperatingSystemGroup string `json:"operatingSystemGroup,omitempty"`
	Architecture         string `json:"architecture,omitempty"`
	Purpose              string `json:"purpose,omitempty"`
	DefaultQueueID       string `json:"defaultQueueId,omitempty"`
}

const DefaultWorkItemTimeout = 15 * time.Minute

func DefaultConfig() *Config {
	selector := helix.NewQueueSelector()
	return &Config{
		Queue: QueueConfig{
			OperatingSystemGroup: selector.OperatingSystemGroup,
			Architecture:         selector.Architecture,
			Purpose:              selector.Purpose,
			DefaultQueueID:       selector.DefaultQueueID,
		},
		AssemblyGlobs: []string{"artifacts/bin/*UnitTests/Debug/net472/*.UnitTests.dll"},
		PartitionedAssemblies: []string{
			"Microsoft.CodeAnalysis.CSharp.Emit.UnitTests.dll",
			"Microsoft.CodeAnalysis.CSharp.Semantic.UnitTests.dll",
			"Microsoft.CodeAnalysis.EditorFeatures.UnitTests.dll",
			"Microsoft.CodeAnalysis.EditorFeatures2.UnitTests.dll",
			"Microsoft.VisualStudio.LanguageServices.UnitTests.dll",
			"Microsoft.CodeAnalysis.CSharp.EditorFeatures.UnitTests.dll",
			"Microsoft.CodeAnalysis.VisualBasic.EditorFeatures.UnitTests.dll",
			"Microsoft.CodeAnalysis.CSharp.Symbol.UnitTests.dll",
			"Microsoft.CodeAnalysis.VisualBasic.Emit.UnitTests.dll",
			"Microsoft.CodeAnalysis.VisualBasic.Semantic.UnitTests.dll",
		},
		MethodLimit:     partition.DefaultMethodLimit,
		WorkItemTimeout: &metav1.Duration{Duration: DefaultWorkItemTimeout},
	}
}

// LoadConfig reads the file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if len(path) == 0 {
		return config, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(raw, config); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.MethodLimit <= 0 {
		return fmt.Errorf("methodLimit must be positive, got %d", c.MethodLimit)
	}
	if c.WorkItemTimeout == nil || c.WorkItemTimeout.Duration <= 0 {
		return fmt.Errorf("workItemTimeout must be positive")
	}
	if len(c.Queue.DefaultQueueID) == 0 {
		return fmt.Errorf("queue.defaultQueueId must be set")
	}
	return nil
}

func (c *Config) QueueSelector() helix.QueueSelector {
	return helix.QueueSelector{
		OperatingSystemGroup: c.Queue.OperatingSystemGroup,
		Architecture:         c.Queue.Architecture,
		Purpose:              c.Queue.Purpose,
		DefaultQueueID:       c.Queue.DefaultQueueID,
	}
}

func (c *Config) PartitionedSet() sets.Set[string] {
	return sets.New[string](c.PartitionedAssemblies...)
}
