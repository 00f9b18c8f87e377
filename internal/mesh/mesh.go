// Package mesh turns decoded model data into the deduplicated vertex and
// index lists uploaded by the resource factory.
package mesh

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Builder collapses vertices with identical attribute tuples into one
// entry, rewriting indices to point at the first occurrence.
type Builder struct {
	mesh   Mesh
	unique map[Vertex]uint32
}

func NewBuilder() *Builder {
	return &Builder{unique: make(map[Vertex]uint32)}
}

func (b *Builder) Add(v Vertex) {
	index, exists := b.unique[v]
	if !exists {
		index = uint32(len(b.mesh.Vertices))
		b.mesh.Vertices = append(b.mesh.Vertices, v)
		b.unique[v] = index
	}

	b.mesh.Indices = append(b.mesh.Indices, index)
}

func (b *Builder) Mesh() *Mesh {
	return &b.mesh
}

// Deduplicate builds an indexed mesh from a flat, unindexed vertex stream.
func Deduplicate(vertices []Vertex) *Mesh {
	builder := NewBuilder()
	for _, v := range vertices {
		builder.Add(v)
	}
	return builder.Mesh()
}

func objVertex(decoder *obj.Decoder, face obj.Face, corner int) (Vertex, error) {
	vertInd := face.Vertices[corner]
	if vertInd < 0 || vertInd*3+2 >= len(decoder.Vertices) {
		return Vertex{}, errors.Errorf("face references missing vertex %d", vertInd)
	}

	vert := Vertex{
		Position: mgl32.Vec3{
			decoder.Vertices[vertInd*3],
			decoder.Vertices[vertInd*3+1],
			decoder.Vertices[vertInd*3+2],
		},
		Color: mgl32.Vec3{1, 1, 1},
	}

	if corner < len(face.Uvs) {
		uvInd := face.Uvs[corner]
		if uvInd < 0 || uvInd*2+1 >= len(decoder.Uvs) {
			return Vertex{}, errors.Errorf("face references missing uv %d", uvInd)
		}
		// OBJ puts the texture origin bottom-left, Vulkan samples top-left
		vert.TexCoord = mgl32.Vec2{
			decoder.Uvs[uvInd*2],
			1.0 - decoder.Uvs[uvInd*2+1],
		}
	}

	return vert, nil
}

// DecodeOBJ reads a Wavefront OBJ model. mtl may be nil. Polygons are
// triangulated as fans around their first corner.
func DecodeOBJ(model io.Reader, mtl io.Reader) (*Mesh, error) {
	if mtl == nil {
		mtl = strings.NewReader("")
	}

	decoder, err := obj.DecodeReader(model, mtl)
	if err != nil {
		return nil, errors.Wrap(err, "decode obj")
	}

	builder := NewBuilder()
	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range [3]int{0, i - 1, i} {
					vert, err := objVertex(decoder, face, corner)
					if err != nil {
						return nil, errors.Wrapf(err, "object %s", decodedObj.Name)
					}
					builder.Add(vert)
				}
			}
		}
	}

	m := builder.Mesh()
	if len(m.Indices) == 0 {
		return nil, errors.New("model contains no triangles")
	}
	return m, nil
}
