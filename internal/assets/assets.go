// Package assets loads the model, texture and shaders the renderer draws
// with, and watches the shader binaries so they can be reloaded.
package assets

import (
	"context"
	"encoding/binary"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/tutorial/internal/config"
	"github.com/vkngwrapper/tutorial/internal/mesh"
	"github.com/vkngwrapper/tutorial/internal/texture"
	"golang.org/x/sync/errgroup"
)

const (
	// spirvMagic is the first word of every SPIR-V module.
	spirvMagic = 0x07230203
	// spirvHeaderWords is the length of the module header: magic, version,
	// generator, bound and schema.
	spirvHeaderWords = 5
)

type Bundle struct {
	Mesh    *mesh.Mesh
	Texture *texture.Image
}

func open(fsys fs.FS, name string) (fs.File, error) {
	name = filepath.ToSlash(filepath.Clean(name))
	if !fs.ValidPath(name) {
		return nil, errors.Errorf("asset path %q must be relative to the asset root", name)
	}
	return fsys.Open(name)
}

func readFile(fsys fs.FS, name string) ([]byte, error) {
	f, err := open(fsys, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Load decodes the model and the texture concurrently.
func Load(ctx context.Context, fsys fs.FS, paths config.Assets, logger *log.Logger) (*Bundle, error) {
	var bundle Bundle
	group, _ := errgroup.WithContext(ctx)

	group.Go(func() error {
		start := hrtime.Now()

		model, err := open(fsys, paths.Model)
		if err != nil {
			return errors.Wrap(err, "open model")
		}
		defer model.Close()

		var material io.Reader
		if paths.Material != "" {
			f, err := open(fsys, paths.Material)
			if err != nil {
				return errors.Wrap(err, "open material")
			}
			defer f.Close()
			material = f
		}

		bundle.Mesh, err = mesh.DecodeOBJ(model, material)
		if err != nil {
			return errors.Wrapf(err, "load model %s", paths.Model)
		}

		logger.Debug("model loaded",
			"path", paths.Model,
			"vertices", len(bundle.Mesh.Vertices),
			"indices", len(bundle.Mesh.Indices),
			"took", hrtime.Since(start))
		return nil
	})

	group.Go(func() error {
		start := hrtime.Now()

		f, err := open(fsys, paths.Texture)
		if err != nil {
			return errors.Wrap(err, "open texture")
		}
		defer f.Close()

		bundle.Texture, err = texture.Decode(f)
		if err != nil {
			return errors.Wrapf(err, "load texture %s", paths.Texture)
		}

		logger.Debug("texture loaded",
			"path", paths.Texture,
			"width", bundle.Texture.Width,
			"height", bundle.Texture.Height,
			"mip_levels", bundle.Texture.MipLevels,
			"took", hrtime.Since(start))
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Shaders reads the compiled vertex and fragment stages.
type Shaders struct {
	FS       fs.FS
	Vertex   string
	Fragment string
}

func (s Shaders) Load() (vert, frag []byte, err error) {
	vert, err = readSPIRV(s.FS, s.Vertex)
	if err != nil {
		return nil, nil, err
	}

	frag, err = readSPIRV(s.FS, s.Fragment)
	if err != nil {
		return nil, nil, err
	}

	return vert, frag, nil
}

func readSPIRV(fsys fs.FS, name string) ([]byte, error) {
	data, err := readFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read shader %s", name)
	}

	if len(data) < 4*spirvHeaderWords || len(data)%4 != 0 {
		return nil, errors.Errorf("shader %s is %d bytes, not a whole number of SPIR-V words", name, len(data))
	}
	if binary.LittleEndian.Uint32(data) != spirvMagic {
		return nil, errors.Errorf("shader %s is not a SPIR-V module", name)
	}
	return data, nil
}

// ShaderCache serves the last shader pair that loaded cleanly. Pipeline
// rebuilds read from the cache, so a file that is still being written never
// reaches the driver.
type ShaderCache struct {
	source     Shaders
	vert, frag []byte
}

func NewShaderCache(source Shaders) (*ShaderCache, error) {
	c := &ShaderCache{source: source}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh rereads the shaders. On failure the cached pair is kept.
func (c *ShaderCache) Refresh() error {
	vert, frag, err := c.source.Load()
	if err != nil {
		return err
	}
	c.vert, c.frag = vert, frag
	return nil
}

func (c *ShaderCache) Load() (vert, frag []byte, err error) {
	return c.vert, c.frag, nil
}
