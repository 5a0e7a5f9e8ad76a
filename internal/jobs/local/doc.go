// Package local runs job units as subprocesses on the current host.
//
// A single semaphore caps in-flight processes across every submitted batch.
// Each unit is judged on its own, so one failing unit never stops its
// siblings.
package local
