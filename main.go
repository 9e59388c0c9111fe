package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"log/slog"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/xlab/linmath"
	"golang.org/x/sync/errgroup"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
	"github.com/ironsmile/vulkan-render-go/gpu/vkdriver"
	"github.com/ironsmile/vulkan-render-go/models"
	"github.com/ironsmile/vulkan-render-go/render"
	"github.com/ironsmile/vulkan-render-go/shaders"
	"github.com/ironsmile/vulkan-render-go/textures"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()

	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers and debug logging")
	flag.BoolVar(&args.headless, "headless", false, "Render with the in-memory device instead of a window")
	flag.IntVar(&args.frames, "frames", 0, "Stop after this many frames. Zero runs until the window is closed")
	flag.IntVar(&args.width, "width", 1024, "Window width")
	flag.IntVar(&args.height, "height", 768, "Window height")
	flag.StringVar(&args.texture, "texture", "", "Image file used as texture. A checkerboard is used by default")
	flag.StringVar(&args.model, "model", "", "Wavefront OBJ model to draw. A quad is drawn by default")
	flag.StringVar(&args.shaders, "shaders", "shaders", "Directory with the compiled vert.spv and frag.spv shaders")
	flag.BoolVar(&args.stats, "stats", false, "Print renderer counters as JSON on exit")
}

var args struct {
	debug    bool
	headless bool
	frames   int
	width    int
	height   int
	texture  string
	model    string
	shaders  string
	stats    bool
}

// headlessFrames is drawn with -headless when -frames is not set.
const headlessFrames = 3

// maxTextureSize is the largest texture side; bigger images are scaled down.
const maxTextureSize = 2048

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if args.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	render.SetLogger(logger)

	app := &App{
		width:  args.width,
		height: args.height,
		log:    logger,
	}
	if err := app.Run(); err != nil {
		log.Fatalf("ERROR: %s", err)
	}
}

// surfaceDevice is a device which owns the surface it presents to.
type surfaceDevice interface {
	gpu.Device
	Surface() gpu.Surface
}

// App draws two spinning textured copies of a model.
type App struct {
	width  int
	height int
	log    *slog.Logger

	window *glfw.Window
	ctx    *render.Context

	model   *models.Model
	texture *textures.Texture
	program shaders.Program

	mesh *render.Mesh
	tex  *render.Texture

	start  time.Time
	frames int
}

// Run opens the device, loads the assets and renders until the window is
// closed or enough frames were drawn.
func (a *App) Run() error {
	if err := a.loadAssets(); err != nil {
		return fmt.Errorf("loadAssets: %w", err)
	}

	var (
		dev    surfaceDevice
		extent gpu.Extent2D
	)
	if args.headless {
		cfg := softgpu.DefaultConfig()
		dev, extent = softgpu.New(cfg), cfg.SurfaceExtent
	} else {
		if err := a.initWindow(); err != nil {
			return fmt.Errorf("initWindow: %w", err)
		}
		defer a.cleanWindow()

		vkdev, err := vkdriver.Open(a.window, vkdriver.Options{
			AppName:    title,
			Validation: args.debug,
			Logger:     a.log,
		})
		if err != nil {
			return fmt.Errorf("vkdriver.Open: %w", err)
		}
		w, h := a.window.GetFramebufferSize()
		dev, extent = vkdev, gpu.Extent2D{Width: uint32(w), Height: uint32(h)}
	}

	if err := a.initRenderer(dev, extent); err != nil {
		return fmt.Errorf("initRenderer: %w", err)
	}
	defer a.ctx.Shutdown()

	if err := a.mainLoop(); err != nil {
		return fmt.Errorf("mainLoop: %w", err)
	}

	if args.stats {
		if err := a.ctx.WriteStats(os.Stdout); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
		fmt.Println()
	}

	return nil
}

// loadAssets decodes the model, the texture and the shaders concurrently.
func (a *App) loadAssets() error {
	var g errgroup.Group

	g.Go(func() error {
		if args.model == "" {
			a.model = models.Quad(1, linmath.Vec3{1, 1, 1})
			return nil
		}
		f, err := os.Open(args.model)
		if err != nil {
			return err
		}
		defer f.Close()

		a.model, err = models.DecodeOBJ(f)
		return errors.Wrapf(err, "model %s", args.model)
	})

	g.Go(func() error {
		if args.texture == "" {
			a.texture = textures.Checkerboard(256, 32,
				color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff},
				color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff},
			)
			return nil
		}
		f, err := os.Open(args.texture)
		if err != nil {
			return err
		}
		defer f.Close()

		a.texture, err = textures.Decode(f, maxTextureSize)
		return errors.Wrapf(err, "texture %s", args.texture)
	})

	g.Go(func() error {
		program, err := shaders.Load(os.DirFS(args.shaders))
		if err != nil && args.headless {
			a.log.Info("using placeholder shaders", "err", err)
			program, err = shaders.Placeholder(), nil
		}
		a.program = program
		return err
	})

	return g.Wait()
}

func (a *App) initWindow() error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw.Init: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	window, err := glfw.CreateWindow(a.width, a.height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("creating window: %w", err)
	}

	a.window = window
	return nil
}

func (a *App) cleanWindow() {
	a.window.Destroy()
	glfw.Terminate()
}

func (a *App) initRenderer(dev surfaceDevice, extent gpu.Extent2D) error {
	opts := render.DefaultOptions()
	opts.Validation = args.debug
	opts.ClearColor = [4]float32{0.02, 0.02, 0.03, 1}
	opts.VertexShader = a.program.Vertex
	opts.FragmentShader = a.program.Fragment

	ctx, err := render.Initialize(dev, dev.Surface(), extent, opts)
	if err != nil {
		return fmt.Errorf("render.Initialize: %w", err)
	}
	a.ctx = ctx

	if a.window != nil {
		a.window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
			ctx.Resize(gpu.Extent2D{Width: uint32(width), Height: uint32(height)})
		})
	}

	a.mesh, err = ctx.CreateMesh(a.model.Vertices, a.model.Indices)
	if err != nil {
		return fmt.Errorf("creating mesh: %w", err)
	}

	a.tex, err = ctx.CreateTexture(
		a.texture.Pixels,
		a.texture.Width,
		a.texture.Height,
		gpu.FormatR8G8B8A8Srgb,
	)
	if err != nil {
		return fmt.Errorf("creating texture: %w", err)
	}

	a.log.Info("renderer ready",
		"vertices", len(a.model.Vertices),
		"indices", len(a.model.Indices),
		"texture", fmt.Sprintf("%dx%d", a.texture.Width, a.texture.Height),
	)
	return nil
}

func (a *App) done() bool {
	limit := args.frames
	if limit == 0 && args.headless {
		limit = headlessFrames
	}
	if limit > 0 && a.frames >= limit {
		return true
	}
	return a.window != nil && a.window.ShouldClose()
}

func (a *App) mainLoop() error {
	a.start = time.Now()

	for !a.done() {
		if a.window != nil {
			glfw.PollEvents()
		}

		err := a.drawFrame()
		switch {
		case err == nil:
			a.frames++
		case errors.Is(err, render.ErrSwapchainOutOfDate) && a.window != nil:
			// Minimized. Nothing can be drawn until the window has a size.
			glfw.WaitEvents()
		default:
			return fmt.Errorf("error drawing a frame: %w", err)
		}
	}

	a.log.Info("main loop done",
		"frames", a.frames,
		"elapsed", time.Since(a.start).Round(time.Millisecond),
	)
	return nil
}

func (a *App) drawFrame() error {
	token, err := a.ctx.BeginFrame()
	if err != nil {
		return err
	}

	angle := float32(time.Since(a.start).Seconds() * math.Pi / 2)
	aspect := float32(token.Extent.Width) / float32(token.Extent.Height)

	return a.ctx.SubmitFrame(token, render.DrawList{
		View: render.LookAt(
			linmath.Vec3{2, 2, 2},
			linmath.Vec3{0, 0, 0},
			linmath.Vec3{0, 0, 1},
		),
		Projection: render.Projection(math.Pi/4, aspect, 0.1, 10),
		Items: []render.DrawItem{
			{
				Mesh:    a.mesh,
				Texture: a.tex,
				Model:   render.Transform(linmath.Vec3{-0.6, 0, 0}, angle),
			},
			{
				Mesh:  a.mesh,
				Model: render.Transform(linmath.Vec3{0.6, 0, -0.5}, -angle),
			},
		},
	})
}

const title = "Vulkan Render"
