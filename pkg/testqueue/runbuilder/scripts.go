package runbuilder

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	flatScriptName   = "xunit.cmd"
	runnerExecutable = `.\xunit.console.exe`
	uploadRootVar    = "%HELIX_WORKITEM_UPLOAD_ROOT%"
	correlationVar   = "%HELIX_CORRELATION_PAYLOAD%"
	// the scripts run on Windows machines
	scriptLineEnding = "\r\n"
)

// WriteFileContentIfDifferent writes content to path unless the file already
// holds exactly that content. It reports whether the file was written.
// Leaving an unchanged file alone keeps the payload it belongs to unchanged.
func WriteFileContentIfDifferent(fs afero.Fs, path string, content []byte) (bool, error) {
	if current, err := afero.ReadFile(fs, path); err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err := afero.WriteFile(fs, path, content, 0644); err != nil {
		return false, fmt.Errorf("could not write %s: %w", path, err)
	}
	return true, nil
}

// runnerLine runs the assembly and writes its reports into the upload root,
// reportSuffix distinguishing the partitions of one assembly.
func runnerLine(assemblyFileName, reportSuffix, arguments string) string {
	report := uploadRootVar + `\` + assemblyFileName + reportSuffix
	line := fmt.Sprintf("%s %s -html %s.html -xml %s.xml", runnerExecutable, assemblyFileName, report, report)
	if len(arguments) > 0 {
		line += " " + arguments
	}
	return line
}

// flatScript restores the shared modules of the assembly directory from the
// correlation payload, then runs the assembly.
func flatScript(assemblyFileName string, shared map[string]string) []byte {
	var names []string
	for name := range shared {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		lines = append(lines, fmt.Sprintf(`copy %s\%s %s`, correlationVar, shared[name], name))
	}
	lines = append(lines, runnerLine(assemblyFileName, "", ""))
	return []byte(strings.Join(lines, scriptLineEnding) + scriptLineEnding)
}

// partitionScript runs one partition from inside the correlation payload,
// which is the assembly directory.
func partitionScript(assemblyFileName, partitionID, arguments string) []byte {
	lines := []string{
		"cd " + correlationVar,
		runnerLine(assemblyFileName, "."+partitionID, arguments),
	}
	return []byte(strings.Join(lines, scriptLineEnding) + scriptLineEnding)
}

func partitionScriptName(partitionID string) string {
	return "xunit-" + partitionID + ".cmd"
}

func partitionID(index int) string {
	return fmt.Sprintf("%03d", index)
}

func scriptCommand(scriptName string) string {
	return "cmd /c " + scriptName
}
