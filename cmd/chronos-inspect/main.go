// Command chronos-inspect reads a recording header from disk and reports
// whether this build of the agent can safely read the recording it belongs
// to.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chronos-dev/agent/internal/recording"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <recording-header.json>\n", os.Args[0])
		os.Exit(2)
	}

	if err := inspect(os.Args[1], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chronos-inspect: %v\n", err)
		os.Exit(1)
	}
}

func inspect(path string, out *os.File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read header file: %w", err)
	}

	header, err := recording.Unmarshal(data)
	if err != nil {
		return err
	}

	compatible, warnings := header.CompatibleWith(recording.CurrentFormatVersion)

	report := struct {
		Compatible       bool     `json:"compatible"`
		ReaderVersion    string   `json:"reader_version"`
		RecordingVersion string   `json:"recording_version"`
		ToolVersion      string   `json:"tool_version"`
		AppIdentifier    string   `json:"app_identifier"`
		ProcessName      string   `json:"process_name"`
		Warnings         []string `json:"warnings,omitempty"`
	}{
		Compatible:       compatible,
		ReaderVersion:    recording.CurrentFormatVersion.String(),
		RecordingVersion: header.FormatVersion.String(),
		ToolVersion:      header.ToolVersion,
		AppIdentifier:    header.AppIdentifier,
		ProcessName:      header.ProcessName,
		Warnings:         warnings,
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if !compatible {
		return fmt.Errorf("recording format %s is incompatible with reader %s", header.FormatVersion, recording.CurrentFormatVersion)
	}
	return nil
}
