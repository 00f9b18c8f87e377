// Package scene computes per-frame shader inputs from simulation time.
package scene

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const MaxModels = 4

type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

// Instance is the push constant block for one drawn copy of the model:
// the vertex stage reads Model at offset 0, the fragment stage reads Opacity
// at offset 64.
type Instance struct {
	Model   mgl32.Mat4
	Opacity float32
}

func (i Instance) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, &i)
	return buf.Bytes(), err
}

type Scene struct {
	models int
}

func New(models int) *Scene {
	s := &Scene{}
	s.SetModels(models)
	return s
}

func (s *Scene) Models() int {
	return s.models
}

// SetModels clamps the instance count to [1, MaxModels].
func (s *Scene) SetModels(n int) {
	if n < 1 {
		n = 1
	}
	if n > MaxModels {
		n = MaxModels
	}
	s.models = n
}

func (s *Scene) AddModel() {
	s.SetModels(s.models + 1)
}

func (s *Scene) RemoveModel() {
	s.SetModels(s.models - 1)
}

// Uniforms spins the model a quarter turn per second about Z and looks at it
// from (2,2,2).
func (s *Scene) Uniforms(extent core1_0.Extent2D, seconds float64) UniformBufferObject {
	angle := float32(math.Mod(seconds, 4.0) * math.Pi / 2.0)

	aspectRatio := float32(1)
	if extent.Height > 0 {
		aspectRatio = float32(extent.Width) / float32(extent.Height)
	}

	proj := mgl32.Perspective(mgl32.DegToRad(45), aspectRatio, 0.1, 10.0)
	// Vulkan clip space has Y pointing down
	proj[5] *= -1

	return UniformBufferObject{
		Model: mgl32.HomogRotate3DZ(angle),
		View:  mgl32.LookAtV(mgl32.Vec3{2, 2, 2}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1}),
		Proj:  proj,
	}
}

// Instances lays copies out on a 2x2 grid, each more opaque than the last.
func (s *Scene) Instances() []Instance {
	instances := make([]Instance, 0, s.models)
	for i := 0; i < s.models; i++ {
		y := float32(i%2)*2.5 - 1.25
		z := float32(i/2)*-2.0 + 1.0
		if s.models == 1 {
			y, z = 0, 0
		}

		instances = append(instances, Instance{
			Model:   mgl32.Translate3D(0, y, z),
			Opacity: float32(i+1) / float32(s.models),
		})
	}
	return instances
}
