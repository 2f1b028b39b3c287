// Package recording defines the recording file header and the version
// compatibility rule a reader applies before trusting a recording's
// contents.
package recording

import (
	"encoding/json"
	"fmt"
)

// Version is a format_version major.minor.patch triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// CurrentFormatVersion is the recording format version this build of the
// agent writes, and the version a reader built from the same source tree
// compares incoming headers against.
var CurrentFormatVersion = Version{Major: 1, Minor: 0, Patch: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Header is the persisted/serialized recording header.
type Header struct {
	FormatVersion      Version `json:"format_version"`
	ToolVersion        string  `json:"tool_version"`
	PlatformSDKVersion string  `json:"platform_sdk_version"`
	LanguageRuntimeVer string  `json:"language_runtime_version"`
	CreatedAtEpochMs   int64   `json:"created_at"`
	AppIdentifier      string  `json:"app_identifier"`
	ProcessName        string  `json:"process_name"`
	Checksum           string  `json:"checksum,omitempty"`
}

// CompatibleWith reports whether a reader built for readerVersion can
// trust a recording whose header declares h.FormatVersion: the major
// version must match exactly, the minor version may differ by at most
// one in either direction, and the patch version never affects
// compatibility.
func (h Header) CompatibleWith(readerVersion Version) (bool, []string) {
	var warnings []string

	if h.FormatVersion.Major != readerVersion.Major {
		return false, nil
	}

	diff := h.FormatVersion.Minor - readerVersion.Minor
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		return false, nil
	}
	if diff == 1 {
		warnings = append(warnings, fmt.Sprintf(
			"recording minor version %s differs from reader %s; some fields may be ignored or defaulted",
			h.FormatVersion, readerVersion))
	}

	return true, warnings
}

// Marshal serializes the header to its on-disk JSON representation.
func (h Header) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal parses a serialized header.
func Unmarshal(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("recording: parse header: %w", err)
	}
	return h, nil
}
