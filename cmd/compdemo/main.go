// Command compdemo renders frames into a composition swapchain and saves
// the last composed frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/compositor"
	"github.com/gogpu/compositor/driver"
	_ "github.com/gogpu/compositor/driver/soft"
	_ "github.com/gogpu/compositor/driver/wgpu"
)

// window is the handle frames are composed into. Backends in this module
// compose off-screen, so any non-zero value works.
const window driver.WindowHandle = 0x1

// framer is implemented by backends that can read back composed frames.
type framer interface {
	Frame(hwnd driver.WindowHandle) (*image.RGBA, error)
}

func main() {
	var (
		backend   = flag.String("backend", "", "driver backend (default: highest priority available)")
		frames    = flag.Int("frames", 3, "frames to render")
		width     = flag.Int("width", 800, "swapchain width")
		height    = flag.Int("height", 600, "swapchain height")
		output    = flag.String("output", "frame.png", "output file (.png or .bmp)")
		thumb     = flag.Int("thumb", 0, "also save a thumbnail this many pixels wide")
		annotate  = flag.Bool("annotate", false, "print backend and frame count onto the output")
		clearOnly = flag.Bool("clear-only", false, "clear without drawing the triangle")
		debug     = flag.Bool("debug", false, "enable driver validation")
		verbose   = flag.Bool("v", false, "log to stderr")
	)
	flag.Parse()

	if *verbose {
		compositor.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if *width <= 0 || *height <= 0 || *frames <= 0 {
		log.Fatalf("width, height and frames must be positive")
	}

	factory, err := openBackend(*backend)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	name := factory.Name()
	fr, ok := factory.(framer)
	if !ok {
		factory.Release()
		log.Fatalf("Backend %s cannot read back frames", name)
	}

	opts := []compositor.Option{compositor.WithSize(uint32(*width), uint32(*height))}
	if *clearOnly {
		opts = append(opts, compositor.WithoutGeometry())
	}
	if *debug {
		opts = append(opts, compositor.WithDebugLayer())
	}
	r, err := compositor.New(factory, window, opts...)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events := make(chan compositor.Event)
	go func() {
		defer close(events)
		for i := 0; i < *frames; i++ {
			select {
			case events <- compositor.EventPaint:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := r.Run(ctx, events); err != nil {
		_ = r.Close()
		log.Fatalf("Render failed: %v", err)
	}

	img, err := fr.Frame(window)
	if err != nil {
		_ = r.Close()
		log.Fatalf("Failed to read back frame: %v", err)
	}
	stats := r.Stats()
	if err := r.HandleEvent(compositor.EventDestroy); err != nil {
		log.Printf("Close: %v", err)
	}

	if *annotate {
		label(img, fmt.Sprintf("%s  frames=%d  fence=%d", name, stats.Frames, stats.FenceValue))
	}
	if err := save(*output, img); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Frame saved to %s (%dx%d, %s, %d frames)\n", *output, *width, *height, name, stats.Frames)

	if *thumb > 0 {
		path := thumbPath(*output)
		if err := save(path, thumbnail(img, *thumb)); err != nil {
			log.Fatalf("Failed to save thumbnail: %v", err)
		}
		log.Printf("Thumbnail saved to %s\n", path)
	}
}

func openBackend(name string) (driver.Factory, error) {
	if name == "" {
		return driver.OpenDefault()
	}
	return driver.Open(name)
}

func label(img *image.RGBA, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, img.Bounds().Dy()-8),
	}
	d.DrawString(text)
}

func thumbnail(src image.Image, width int) image.Image {
	b := src.Bounds()
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

func thumbPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "_thumb" + ext
}

func save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bmp":
		err = bmp.Encode(f, img)
	default:
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
