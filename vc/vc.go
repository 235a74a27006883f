// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/rejit/vc"

import "fmt"

// devVersion is reported by builds without version information.
const devVersion = "v0.0.0-dev"

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the simulator
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// Revision of the simulator.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	if version == "" {
		return devVersion
	}
	return version
}

// Summary describes the build in one line.
func Summary() string {
	s := Version()
	if revision != "" {
		s += fmt.Sprintf(" (revision %s", revision)
		if buildTimestamp != "" {
			s += ", built " + buildTimestamp
		}
		s += ")"
	}
	return s
}
