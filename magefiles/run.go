//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the tutorial with validation logging.
func (Run) Tutorial() error {
	mg.Deps(Build.Shaders)

	_, err := executeCmd("go", withArgs("run", "./cmd/tutorial", "-log-level", "debug"), withStream())
	return err
}

// Runs the tutorial with the Vulkan validation layer forced on through the
// loader, regardless of the config file.
func (Run) Validated() error {
	mg.Deps(Build.Shaders)

	_, err := executeCmd("go",
		withArgs("run", "./cmd/tutorial"),
		withEnv("VK_INSTANCE_LAYERS=VK_LAYER_KHRONOS_validation"),
		withStream())
	return err
}
