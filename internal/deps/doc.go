// Package deps checks whether external executables are installed.
package deps
