// Package main provides the shaderwatch CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/shaderwatch"
	"github.com/gogpu/shaderwatch/compiler"
	"github.com/gogpu/shaderwatch/devserver"
	"github.com/gogpu/shaderwatch/diskcache"
	"github.com/gogpu/shaderwatch/integration/host"
)

// Version is the current shaderwatch CLI version.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "shaderwatch",
	Short:   "Shaderwatch - shader compilation and hot reload",
	Long:    `Shaderwatch compiles WGSL shaders to SPIR-V and watches source files for changes, recompiling and reporting affected pipelines on the fly.`,
	Version: Version,
}

var compileCmd = &cobra.Command{
	Use:   "compile <file>...",
	Short: "Compile WGSL files to SPIR-V",
	Long: `Compile one or more WGSL source files to SPIR-V.

Each input file produces a sibling .spv file unless --out names a
directory for the output.

Examples:
  shaderwatch compile shaders/pbr.wgsl
  shaderwatch compile --out build/ shaders/*.wgsl
  shaderwatch compile --debug shaders/pbr.wgsl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompile,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch shaders from a manifest and recompile on change",
	Long: `Load the programs declared in a shader manifest, then watch their
sources and recompile whenever a file changes.

With --serve, reload events are also broadcast to websocket clients on
the given address, for editor plugins and browser overlays.

Examples:
  shaderwatch watch --manifest shaders.yaml
  shaderwatch watch --manifest shaders.yaml --serve :8765`,
	RunE: runWatch,
}

var (
	compileOut    string
	compileDebug  bool
	watchManifest string
	watchServe    string
	watchCacheDir string
	verbose       bool
)

func init() {
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "", "Output directory (default: next to each input)")
	compileCmd.Flags().BoolVar(&compileDebug, "debug", false, "Compile without optimization, keeping debug info")

	watchCmd.Flags().StringVarP(&watchManifest, "manifest", "m", "shaders.yaml", "Shader manifest file")
	watchCmd.Flags().StringVar(&watchServe, "serve", "", "Broadcast reload events over websockets on this address")
	watchCmd.Flags().StringVar(&watchCacheDir, "cache-dir", "", "Persist compiled shaders in this directory")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(watchCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	setupLogging()

	opts := naga.CompileOptions{
		SPIRVVersion: spirv.Version1_3,
		Debug:        compileDebug,
		Validate:     true,
	}

	for _, path := range args {
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		code, err := naga.CompileWithOptions(string(source), opts)
		if err != nil {
			return &compiler.Error{Path: path, Diagnostic: err.Error()}
		}

		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".spv"
		if compileOut != "" {
			if err := os.MkdirAll(compileOut, 0o755); err != nil {
				return err
			}
			out = filepath.Join(compileOut, filepath.Base(out))
		}
		if err := os.WriteFile(out, code, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s -> %s (%d bytes)\n", path, out, len(code))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	setupLogging()

	manifest, err := host.LoadManifest(watchManifest)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	var managerOpts []shaderwatch.Option
	if watchCacheDir != "" {
		dc, err := diskcache.Open(watchCacheDir)
		if err != nil {
			return fmt.Errorf("open disk cache: %w", err)
		}
		defer dc.Close()
		managerOpts = append(managerOpts, shaderwatch.WithDiskCache(dc))
	}

	h, err := host.New(manifest, host.WithManagerOptions(managerOpts...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop()

	h.Manager().AddReloadCallback(func(ev shaderwatch.ReloadEvent) {
		if len(ev.Pipelines) == 0 {
			fmt.Printf("reloaded %s\n", ev.Path)
			return
		}
		fmt.Printf("reloaded %s (pipelines: %s)\n", ev.Path, strings.Join(ev.Pipelines, ", "))
	})

	if watchServe != "" {
		ws := devserver.New()
		defer ws.Close()
		h.Manager().AddReloadCallback(ws.Callback())

		mux := http.NewServeMux()
		mux.Handle("/events", ws.Handler())
		srv := &http.Server{Addr: watchServe, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
		defer srv.Shutdown(context.Background())
		fmt.Printf("serving reload events on ws://%s/events\n", watchServe)
	}

	fmt.Printf("watching %d program(s) from %s\n", len(manifest.Programs), watchManifest)
	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}

func setupLogging() {
	if !verbose {
		return
	}
	shaderwatch.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
