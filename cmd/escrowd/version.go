// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import "fmt"

const (
	// appName is the application name.
	appName string = "escrowd"

	// Semantic version components.
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// appPreRelease contains the prerelease name of the application. It is a
// variable so it can be modified at link time (e.g.
// `-ldflags "-X main.appPreRelease=rc1"`).
var appPreRelease = "pre"

// Version returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (https://semver.org/).
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		v += "-" + appPreRelease
	}
	return v
}
