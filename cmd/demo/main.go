// Command demo wires a Context, Renderer, Uploader, and the ImGui
// draw backend together behind a GLFW-hosted window, replacing the
// teacher's application.go/platform.go demo driver with one targeting
// corevk's bindless/async-upload model (spec.md, SPEC_FULL.md §0).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/errgroup"

	"github.com/talonvk/corevk"
	"github.com/talonvk/corevk/imgload"
	imguibackend "github.com/talonvk/corevk/imgui"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config overlay")
	flag.Parse()

	log := corevk.NewLogger(os.Stdout)

	cfg := corevk.DefaultConfig()
	if *configPath != "" {
		overlay, err := corevk.LoadConfig(*configPath)
		if err != nil {
			log.Error.Fatalf("loading config: %v", err)
		}
		cfg = overlay.Merge(cfg)
	}

	if err := glfw.Init(); err != nil {
		log.Error.Fatalf("glfw init: %v", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, cfg.AppName, nil, nil)
	if err != nil {
		log.Error.Fatalf("creating window: %v", err)
	}
	defer window.Destroy()

	if err := vk.Init(); err != nil {
		log.Error.Fatalf("vulkan init: %v", err)
	}

	instanceExtensions := window.GetRequiredInstanceExtensions()

	ctx, err := corevk.NewContext(corevk.ContextOptions{
		AppName:                    cfg.AppName,
		PlatformInstanceExtensions: instanceExtensions,
		EnableValidation:           cfg.EnableValidation,
		Log:                        log,
		Config:                     cfg,
		CreateSurface: func(instance vk.Instance) (vk.Surface, error) {
			surfPtr, err := window.CreateWindowSurface(instance, nil)
			if err != nil {
				return vk.NullSurface, err
			}
			return vk.SurfaceFromPointer(surfPtr), nil
		},
	})
	if err != nil {
		log.Error.Fatalf("creating context: %v", err)
	}
	defer ctx.Destroy()

	width, height := window.GetFramebufferSize()
	renderer, err := corevk.NewRenderer(ctx, cfg, log, uint32(width), uint32(height))
	if err != nil {
		log.Error.Fatalf("creating renderer: %v", err)
	}
	defer renderer.Destroy()

	hostMemType, err := ctx.FindMemoryType(^uint32(0), vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		log.Error.Fatalf("finding host memory type: %v", err)
	}

	uploader, err := corevk.NewUploader(ctx, log, corevk.UploaderOptions{
		SlotCount:       2,
		QueueDepth:      64,
		StagingBytes:    cfg.StagingArenaBytes,
		MemoryTypeIndex: hostMemType,
	})
	if err != nil {
		log.Error.Fatalf("creating uploader: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	uploader.Start(runCtx)

	ui, err := imguibackend.NewBackend(renderer, imguibackend.Config{
		RetireAfterFrames:  uint64(cfg.ImGuiTextureRetireFrames),
		InitialVertexCount: 4096,
		InitialIndexCount:  8192,
	}, hostMemType)
	if err != nil {
		log.Error.Fatalf("creating imgui backend: %v", err)
	}
	defer ui.Destroy()

	reader := imgload.New()
	_ = reader // this demo submits no image uploads, so the reader is unused

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		<-sigCtx.Done()
		cancel()
		return nil
	})

	for !window.ShouldClose() {
		select {
		case <-groupCtx.Done():
			window.SetShouldClose(true)
		default:
		}

		glfw.PollEvents()

		frame, err := renderer.FrameBegin(2 * time.Second)
		if err != nil {
			log.Error.Printf("frame begin: %v", err)
			continue
		}

		if batch, err := renderer.States().Flush(); err != nil {
			log.Error.Printf("state flush: %v", err)
		} else {
			frame.CmdBuf().PipelineBarrier(batch)
		}

		uploaderSem, uploaderValue := uploader.LastSubmittedSemaphore()
		if err := renderer.FrameEnd(frame, uploaderSem, uploaderValue); err != nil {
			log.Error.Printf("frame end: %v", err)
		}
	}

	cancel()
	uploader.Stop()
	if err := group.Wait(); err != nil {
		log.Error.Printf("shutdown: %v", err)
	}
	uploader.Destroy()
}
