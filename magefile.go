//go:build mage

package main

import (
	"github.com/magefile/mage/sh"
)

// Test runs the full test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs go vet.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// Tidy tidies the module file.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}
