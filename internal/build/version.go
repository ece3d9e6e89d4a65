// Package build carries build-time version information.
package build

// Version contains the current semantic version of devtoolsbridge.
const Version = "0.1.0"
