/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package buildversion

import (
	"runtime/debug"
)

// GetVersion returns the version of the named module as recorded in the
// binary's build info, or "dev" when it cannot be determined.
func GetVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	if info.Main.Path == modulePath {
		return versionOrDev(info.Main.Version)
	}

	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			if dep.Replace != nil {
				return versionOrDev(dep.Replace.Version)
			}
			return versionOrDev(dep.Version)
		}
	}

	return "dev"
}

func versionOrDev(version string) string {
	if version == "" || version == "(devel)" {
		return "dev"
	}
	return version
}
