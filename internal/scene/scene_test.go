package scene

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func TestSetModelsClamps(t *testing.T) {
	s := New(0)
	if s.Models() != 1 {
		t.Fatalf("New(0).Models() = %d, want 1", s.Models())
	}

	for i := 0; i < 10; i++ {
		s.AddModel()
	}
	if s.Models() != MaxModels {
		t.Fatalf("Models() = %d after adds, want %d", s.Models(), MaxModels)
	}

	for i := 0; i < 10; i++ {
		s.RemoveModel()
	}
	if s.Models() != 1 {
		t.Fatalf("Models() = %d after removes, want 1", s.Models())
	}
}

func TestInstances(t *testing.T) {
	s := New(3)
	instances := s.Instances()

	if len(instances) != 3 {
		t.Fatalf("got %d instances, want 3", len(instances))
	}
	if instances[2].Opacity != 1 {
		t.Errorf("last instance opacity = %v, want 1", instances[2].Opacity)
	}

	seen := map[mgl32.Vec3]bool{}
	for _, inst := range instances {
		pos := inst.Model.Col(3).Vec3()
		if seen[pos] {
			t.Errorf("two instances placed at %v", pos)
		}
		seen[pos] = true
	}
}

func TestFullGridLayout(t *testing.T) {
	instances := New(MaxModels).Instances()
	if len(instances) != MaxModels {
		t.Fatalf("got %d instances, want %d", len(instances), MaxModels)
	}

	for i, inst := range instances {
		want := mgl32.Translate3D(0, float32(i%2)*2.5-1.25, float32(i/2)*-2+1)
		if inst.Model != want {
			t.Errorf("instance %d model = %v, want %v", i, inst.Model, want)
		}
		if opacity := float32(i+1) * 0.25; inst.Opacity != opacity {
			t.Errorf("instance %d opacity = %v, want %v", i, inst.Opacity, opacity)
		}
	}
}

func TestSingleInstanceAtOrigin(t *testing.T) {
	instances := New(1).Instances()
	if instances[0].Model != mgl32.Ident4() {
		t.Errorf("single instance model = %v, want identity", instances[0].Model)
	}
}

func TestInstanceBytesLayout(t *testing.T) {
	b, err := Instance{Model: mgl32.Ident4(), Opacity: 0.5}.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 68 {
		t.Fatalf("push constant block is %d bytes, want 68", len(b))
	}
}

func TestUniformsFlipY(t *testing.T) {
	s := New(1)
	ubo := s.Uniforms(core1_0.Extent2D{Width: 800, Height: 600}, 0)

	if ubo.Proj[5] >= 0 {
		t.Errorf("projection Y scale %v not flipped", ubo.Proj[5])
	}
	if ubo.Model != mgl32.Ident4() {
		t.Errorf("model at t=0 should be identity")
	}

	quarter := s.Uniforms(core1_0.Extent2D{Width: 800, Height: 600}, 1)
	x := quarter.Model.Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	if math.Abs(float64(x[0])) > 1e-5 || math.Abs(float64(x[1]-1)) > 1e-5 {
		t.Errorf("after 1s x axis maps to %v, want (0,1)", x)
	}
}

func TestUniformsZeroHeight(t *testing.T) {
	ubo := New(1).Uniforms(core1_0.Extent2D{Width: 800}, 0)
	for _, v := range ubo.Proj {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("projection not finite: %v", ubo.Proj)
		}
	}
}
