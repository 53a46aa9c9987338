// Package version holds the voxterm release version.
package version

// Version is the current voxterm version.
const Version = "0.3.0"
