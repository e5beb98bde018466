// SPDX-License-Identifier: MIT
//
// Package build holds the build metadata embedded into the binary with
// linker flags:
//
//	go build -ldflags "-X asiohost/pkg/build.buildName=asiohost \
//	    -X asiohost/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds run without them and report "unknown".
package build

import (
	"fmt"

	"github.com/google/uuid"
)

// Description is the one-line summary shown by the CLI.
const Description = "Host for real-time audio drivers"

type ldFlags struct {
	Name        string
	Description string
	Time        string // RFC3339
	Commit      string
	Version     string
	ID          uuid.UUID // unique per build
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation. Default values of "unknown" are used during development.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildID      string
	buildFlags   = &ldFlags{
		Name:        "asiohost",
		Description: Description,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "unknown",
	}
)

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. On error the development defaults stay in
// place.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}
	id, err := uuid.Parse(buildID)
	if err != nil {
		return fmt.Errorf("BuildID is not a UUID: %w", err)
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	buildFlags.ID = id

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (%s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
