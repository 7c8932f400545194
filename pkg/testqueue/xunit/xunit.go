// Package xunit reads xunit v2 XML reports into per-assembly and per-type
// summaries.
package xunit

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openshift/test-queue-runner/pkg/results"
)

// AssemblySummary holds the counters of one <assembly> element.
type AssemblySummary struct {
	ReportPath    string
	AssemblyName  string
	Passed        int
	Skipped       int
	Failed        int
	Errors        int
	ExecutionTime time.Duration
}

func (s AssemblySummary) Total() int {
	return s.Passed + s.Skipped + s.Failed
}

// TypeSummary accumulates the <test> elements of one type within a report.
type TypeSummary struct {
	ReportPath    string
	FullTypeName  string
	Methods       int
	ExecutionTime time.Duration
}

// TypeName is the type name without its namespace.
func (s TypeSummary) TypeName() string {
	if i := strings.LastIndex(s.FullTypeName, "."); i >= 0 {
		return s.FullTypeName[i+1:]
	}
	return s.FullTypeName
}

// Totals is the sum over a set of assembly summaries.
type Totals struct {
	Passed        int
	Skipped       int
	Failed        int
	Errors        int
	Total         int
	ExecutionTime time.Duration
}

func Sum(summaries []AssemblySummary) Totals {
	var totals Totals
	for _, s := range summaries {
		totals.Passed += s.Passed
		totals.Skipped += s.Skipped
		totals.Failed += s.Failed
		totals.Errors += s.Errors
		totals.Total += s.Total()
		totals.ExecutionTime += s.ExecutionTime
	}
	return totals
}

// ReadAssemblySummaries returns one summary per <assembly> child of the root
// element that carries counters. Assemblies without a passed attribute did
// not run and are skipped.
func ReadAssemblySummaries(path string) ([]AssemblySummary, error) {
	var summaries []AssemblySummary
	err := walkReport(path, func(depth int, element xml.StartElement) error {
		if depth != 2 || element.Name.Local != "assembly" {
			return nil
		}
		attrs := attributes(element)
		if _, ok := attrs["passed"]; !ok {
			return nil
		}
		summary := AssemblySummary{ReportPath: path, AssemblyName: attrs["name"]}
		var err error
		for name, into := range map[string]*int{"passed": &summary.Passed, "skipped": &summary.Skipped, "failed": &summary.Failed, "errors": &summary.Errors} {
			if *into, err = intAttribute(attrs, name); err != nil {
				return fmt.Errorf("assembly %s: %w", summary.AssemblyName, err)
			}
		}
		if summary.ExecutionTime, err = durationAttribute(attrs, "time"); err != nil {
			return fmt.Errorf("assembly %s: %w", summary.AssemblyName, err)
		}
		summaries = append(summaries, summary)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// ReadTypeSummaries groups every <test> element of the report by type,
// sorted by type name.
func ReadTypeSummaries(path string) ([]TypeSummary, error) {
	byType := map[string]*TypeSummary{}
	err := walkReport(path, func(_ int, element xml.StartElement) error {
		if element.Name.Local != "test" {
			return nil
		}
		attrs := attributes(element)
		typeName, ok := attrs["type"]
		if !ok {
			return fmt.Errorf("test %q has no type", attrs["name"])
		}
		executionTime, err := durationAttribute(attrs, "time")
		if err != nil {
			return fmt.Errorf("test %q: %w", attrs["name"], err)
		}
		summary, ok := byType[typeName]
		if !ok {
			summary = &TypeSummary{ReportPath: path, FullTypeName: typeName}
			byType[typeName] = summary
		}
		summary.Methods++
		summary.ExecutionTime += executionTime
		return nil
	})
	if err != nil {
		return nil, err
	}
	summaries := make([]TypeSummary, 0, len(byType))
	for _, summary := range byType {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].FullTypeName < summaries[j].FullTypeName
	})
	return summaries, nil
}

// ListSummaries reads every report under dir. A report that cannot be read
// does not stop the others; the returned error aggregates the failures.
func ListSummaries(dir string) ([]AssemblySummary, error) {
	return listReports(dir, ReadAssemblySummaries)
}

// ListTypeSummaries is ListSummaries for type summaries.
func ListTypeSummaries(dir string) ([]TypeSummary, error) {
	return listReports(dir, ReadTypeSummaries)
}

func listReports[T any](dir string, read func(string) ([]T, error)) ([]T, error) {
	var ret []T
	var errs []error
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		items, err := read(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		ret = append(ret, items...)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, results.ForReason(results.ReasonLocalIO).WithError(walkErr).Errorf("could not list reports in %s", dir))
	}
	return ret, utilerrors.NewAggregate(errs)
}

// walkReport calls visit for every element of the report with its depth,
// the root element being at depth 1.
func walkReport(path string, visit func(depth int, element xml.StartElement) error) error {
	f, err := os.Open(path)
	if err != nil {
		return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not open report")
	}
	defer f.Close()

	decoder := xml.NewDecoder(f)
	depth := 0
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("could not parse report %s", path)
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if err := visit(depth, t); err != nil {
				return results.ForReason(results.ReasonLocalIO).WithError(err).Errorf("malformed report %s", path)
			}
		case xml.EndElement:
			depth--
		}
	}
	if depth != 0 {
		return results.ForReason(results.ReasonLocalIO).Errorf("truncated report %s", path)
	}
	return nil
}

func attributes(element xml.StartElement) map[string]string {
	attrs := make(map[string]string, len(element.Attr))
	for _, attr := range element.Attr {
		attrs[attr.Name.Local] = attr.Value
	}
	return attrs
}

func intAttribute(attrs map[string]string, name string) (int, error) {
	raw, ok := attrs[name]
	if !ok {
		return 0, fmt.Errorf("missing %s attribute", name)
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s attribute %q: %w", name, raw, err)
	}
	return value, nil
}

// maxDurationSeconds is the longest time a time.Duration holds.
const maxDurationSeconds = math.MaxInt64 / float64(time.Second)

func durationAttribute(attrs map[string]string, name string) (time.Duration, error) {
	raw, ok := attrs[name]
	if !ok {
		return 0, fmt.Errorf("missing %s attribute", name)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s attribute %q: %w", name, raw, err)
	}
	if math.IsNaN(seconds) || seconds < 0 || seconds >= maxDurationSeconds {
		return 0, fmt.Errorf("invalid %s attribute %q: out of range", name, raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
