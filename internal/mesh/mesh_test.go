package mesh

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestDeduplicateIdenticalTuples(t *testing.T) {
	a := Vertex{Position: mgl32.Vec3{0, 0, 0}, Color: mgl32.Vec3{1, 1, 1}, TexCoord: mgl32.Vec2{0, 0}}
	b := Vertex{Position: mgl32.Vec3{1, 0, 0}, Color: mgl32.Vec3{1, 1, 1}, TexCoord: mgl32.Vec2{1, 0}}
	c := Vertex{Position: mgl32.Vec3{1, 0, 0}, Color: mgl32.Vec3{1, 1, 1}, TexCoord: mgl32.Vec2{0, 1}}

	m := Deduplicate([]Vertex{a, b, a, c, b})

	if len(m.Vertices) != 3 {
		t.Fatalf("got %d vertices, want 3 distinct tuples", len(m.Vertices))
	}

	want := []uint32{0, 1, 0, 2, 1}
	if len(m.Indices) != len(want) {
		t.Fatalf("got %d indices, want %d", len(m.Indices), len(want))
	}
	for i := range want {
		if m.Indices[i] != want[i] {
			t.Errorf("index %d = %d, want %d", i, m.Indices[i], want[i])
		}
	}
}

func TestDeduplicateComparesEveryAttribute(t *testing.T) {
	base := Vertex{Position: mgl32.Vec3{1, 2, 3}, Color: mgl32.Vec3{1, 1, 1}, TexCoord: mgl32.Vec2{0.5, 0.5}}

	tests := []struct {
		name  string
		other Vertex
	}{
		{"position", Vertex{Position: mgl32.Vec3{1, 2, 4}, Color: base.Color, TexCoord: base.TexCoord}},
		{"color", Vertex{Position: base.Position, Color: mgl32.Vec3{1, 0, 1}, TexCoord: base.TexCoord}},
		{"texcoord", Vertex{Position: base.Position, Color: base.Color, TexCoord: mgl32.Vec2{0.5, 0.25}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Deduplicate([]Vertex{base, tt.other})
			if len(m.Vertices) != 2 {
				t.Fatalf("vertices differing in %s collapsed", tt.name)
			}
		})
	}
}

const quadOBJ = `
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
`

func TestDecodeOBJTriangulatesAndDeduplicates(t *testing.T) {
	m, err := DecodeOBJ(strings.NewReader(quadOBJ), strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}

	// a quad fans into two triangles sharing corners 0 and 2
	if len(m.Indices) != 6 {
		t.Fatalf("got %d indices, want 6", len(m.Indices))
	}
	if len(m.Vertices) != 4 {
		t.Fatalf("got %d vertices, want 4", len(m.Vertices))
	}
	if m.Indices[0] != m.Indices[3] || m.Indices[2] != m.Indices[4] {
		t.Fatalf("shared corners not reused: %v", m.Indices)
	}

	first := m.Vertices[m.Indices[0]]
	if first.TexCoord != (mgl32.Vec2{0, 1}) {
		t.Errorf("texcoord not flipped: %v", first.TexCoord)
	}
	if first.Color != (mgl32.Vec3{1, 1, 1}) {
		t.Errorf("color = %v, want white", first.Color)
	}
}

func TestDecodeOBJEmpty(t *testing.T) {
	_, err := DecodeOBJ(strings.NewReader("o empty\nv 0 0 0\n"), strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for model without faces")
	}
}
