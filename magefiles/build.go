//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/magefile/mage/mg"
)

// shaderOut matches the default asset paths in the config package.
const shaderOut = "assets/shaders"

var shaderStages = map[string]string{
	"shaders/shader.vert": "vert.spv",
	"shaders/shader.frag": "frag.spv",
}

type Build mg.Namespace

// Compiles the GLSL shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	if err := os.MkdirAll(shaderOut, 0o755); err != nil {
		return errors.Wrap(err, "create shader output directory")
	}

	for src, out := range shaderStages {
		if _, err := executeCmd("glslc", withArgs(src, "-o", filepath.Join(shaderOut, out)), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the tutorial binary into bin/.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)

	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "tutorial"), "./cmd/tutorial"), withStream())
	return err
}

// Runs the unit tests. None of them need a GPU.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}
