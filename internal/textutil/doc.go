// Package textutil provides the small text helpers shared by stages and
// backends: file-name and token sanitizing for job names and per-identity
// paths, POSIX shell quoting for scheduler scripts, and title-cased labels
// for log and table output.
package textutil
