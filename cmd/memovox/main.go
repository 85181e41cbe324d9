package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/memovox/memovox/internal/audio"
	"github.com/memovox/memovox/internal/capture"
	"github.com/memovox/memovox/internal/config"
	"github.com/memovox/memovox/internal/engine"
	"github.com/memovox/memovox/internal/library"
	"github.com/memovox/memovox/internal/libserver"
	"github.com/memovox/memovox/internal/logger"
	"github.com/memovox/memovox/internal/orchestrator"
	"github.com/memovox/memovox/internal/playback"
	"github.com/memovox/memovox/internal/transcode"
)

const version = "0.1.0"

// App holds all application state
type App struct {
	logger *logger.Logger
	config *config.Config
	engine *engine.Engine
	driver audio.AudioDriver
	orch   *orchestrator.Orchestrator
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe()
			return
		case "devices":
			runDevices()
			return
		case "version":
			fmt.Printf("memovox v%s\n", version)
			return
		case "help", "-h", "--help":
			printUsage()
			return
		}
	}

	runConsole()
}

func printUsage() {
	fmt.Println("Usage: memovox [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)    interactive recording console")
	fmt.Println("  serve     run the recording library server")
	fmt.Println("  devices   list audio input devices")
	fmt.Println("  version   print version")
}

// runConsole wires the full capture/transcode/playback session and drives it
// from stdin.
func runConsole() {
	app := &App{}

	loggerConfig := logger.DefaultConfig()
	var err error
	app.logger, err = logger.New(loggerConfig)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer app.logger.Close()

	app.logger.Info("memovox v%s starting", version)

	configPath := config.GetConfigPath()
	app.config, err = config.Load(configPath)
	if err != nil {
		app.logger.Error("Failed to load config: %v", err)
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := app.config.Validate(); err != nil {
		app.logger.Error("Invalid config: %v", err)
		log.Fatalf("Invalid config: %v", err)
	}
	app.logger.Info("Config loaded from %s", configPath)

	app.driver, err = audio.NewPortAudioDriver()
	if err != nil {
		if errors.Is(err, audio.ErrUnsupportedPlatform) {
			log.Fatalf("Audio capture is not supported on this platform: %v", err)
		}
		app.logger.Error("Failed to create audio driver: %v", err)
		log.Fatalf("Failed to create audio driver: %v", err)
	}
	defer app.driver.Close()

	app.engine = engine.New(engine.Config{
		Binary:  app.config.EnginePath,
		WorkDir: app.config.EngineWorkDir(),
	})
	defer app.engine.Close()

	audioConfig := audio.DefaultConfig()
	audioConfig.DeviceID = app.config.AudioDeviceID
	audioConfig.SampleRates = append([]int(nil), app.config.SampleRates...)

	targets := make([]transcode.TargetSpec, 0, len(app.config.Targets))
	for _, t := range app.config.Targets {
		targets = append(targets, transcode.TargetSpec{Codec: t.Codec, Bitrate: t.Bitrate})
	}

	pipe := transcode.New(app.engine, app.config.ArtifactDir())
	player := playback.New(app.engine)
	client := library.New(app.config.LibraryURL, library.Normalizer{
		FromHost: app.config.NormalizeFromHost,
		ToHost:   app.config.NormalizeToHost,
	})

	app.orch = orchestrator.New(app.logger, app.engine, capture.New(app.driver), pipe, player, client, orchestrator.Config{
		Capture:           capture.Config{Audio: audioConfig},
		Targets:           targets,
		PreferredVariants: append([]string(nil), app.config.PreferredVariants...),
		MaxRecordTime:     time.Duration(app.config.MaxRecordTime) * time.Second,
		OnTick: func(seconds int) {
			fmt.Printf("\rRecording... %ds", seconds)
		},
	})

	// Load the codec engine in the background so the console comes up
	// immediately; record is refused until it settles.
	go func() {
		if err := app.orch.Initialize(context.Background()); err != nil {
			fmt.Printf("\nCodec engine unavailable: %v\n> ", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		app.logger.Info("Received shutdown signal")
		app.orch.Teardown()
		app.driver.Close()
		app.engine.Close()
		app.logger.Close()
		os.Exit(0)
	}()

	fmt.Printf("memovox v%s - type 'help' for commands\n", version)
	app.consoleLoop()

	app.orch.Teardown()
	app.logger.Info("memovox exiting")
}

func (a *App) consoleLoop() {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "record":
			a.handleRecord()
		case "stop":
			a.handleStop()
		case "play":
			a.handlePlay(fields[1:])
		case "halt":
			a.orch.StopPlayback()
		case "select":
			a.handleSelect(fields[1:])
		case "list":
			a.handleList()
		case "submit":
			a.handleSubmit(fields[1:])
		case "status":
			a.handleStatus()
		case "recover":
			a.orch.Recover()
			fmt.Println("State:", a.orch.GetState())
		case "devices":
			listDevices(a.driver)
		case "help":
			printConsoleHelp()
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command %q - type 'help'\n", fields[0])
		}
	}
}

func printConsoleHelp() {
	fmt.Println("Commands:")
	fmt.Println("  record           start a new recording")
	fmt.Println("  stop             stop recording and convert")
	fmt.Println("  play             play the current take")
	fmt.Println("  play N [tag]     play library entry N (optionally a specific variant)")
	fmt.Println("  select N tag     choose the variant for entry N (stops it if playing)")
	fmt.Println("  halt             stop playback")
	fmt.Println("  list             list library entries")
	fmt.Println("  submit [name]    upload the current take")
	fmt.Println("  status           show session state")
	fmt.Println("  recover          clear a failed session")
	fmt.Println("  devices          list audio input devices")
	fmt.Println("  quit             exit")
}

func (a *App) handleRecord() {
	if err := a.orch.BeginRecording(context.Background()); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrBusy):
			fmt.Println("Busy: a recording is already in progress")
		case errors.Is(err, engine.ErrNotReady):
			fmt.Println("Codec engine is not ready yet")
		case errors.Is(err, audio.ErrDeviceUnavailable):
			fmt.Printf("Input device unavailable: %v\n", err)
		default:
			fmt.Printf("Failed to start recording: %v\n", err)
		}
		return
	}
	fmt.Println("Recording - type 'stop' to finish")
}

func (a *App) handleStop() {
	fmt.Println()
	if err := a.orch.EndRecording(context.Background()); err != nil {
		fmt.Printf("Recording failed: %v\n", err)
		return
	}

	for _, r := range a.orch.Results() {
		if r.Err != nil {
			fmt.Printf("  %-5s failed: %v\n", r.Spec.Codec, r.Err)
			continue
		}
		fmt.Printf("  %-5s %s (%d bytes)\n", r.Spec.Codec, r.Artifact.MimeType, r.Artifact.Size)
	}
	fmt.Println("Ready - 'play' to listen, 'submit' to upload")
}

func (a *App) handlePlay(args []string) {
	if len(args) == 0 {
		if err := a.orch.PlayLocal(context.Background()); err != nil {
			fmt.Printf("Cannot play: %v\n", err)
		}
		return
	}

	entries := a.orch.Entries()
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 1 || idx > len(entries) {
		fmt.Println("Usage: play N [tag] - run 'list' first")
		return
	}

	tag := ""
	if len(args) > 1 {
		tag = args[1]
	}

	if err := a.orch.PlayEntry(context.Background(), entries[idx-1].ID, tag); err != nil {
		fmt.Printf("Cannot play: %v\n", err)
	}
}

func (a *App) handleSelect(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: select N tag")
		return
	}

	entries := a.orch.Entries()
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 1 || idx > len(entries) {
		fmt.Println("Usage: select N tag - run 'list' first")
		return
	}

	a.orch.SelectVariant(entries[idx-1].ID, args[1])
	fmt.Printf("Entry %d will play as %s\n", idx, args[1])
}

func (a *App) handleList() {
	entries, err := a.orch.Refresh(context.Background())
	if err != nil {
		fmt.Printf("Library unavailable: %v\n", err)
		return
	}

	if len(entries) == 0 {
		fmt.Println("Library is empty")
		return
	}

	for i, e := range entries {
		tags := make([]string, 0, len(e.Variants))
		for tag := range e.Variants {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		fmt.Printf("%3d  %-30s %s  [%s]\n", i+1, e.DisplayName, e.UploadedAt.Format("2006-01-02 15:04"), strings.Join(tags, " "))
	}
}

func (a *App) handleSubmit(args []string) {
	name := strings.Join(args, " ")
	if name == "" {
		name = "memo " + time.Now().Format("2006-01-02 15:04")
	}

	if err := a.orch.Submit(context.Background(), name); err != nil {
		var terr *library.TransportError
		if errors.As(err, &terr) {
			fmt.Printf("Upload failed: %v\n", terr)
		} else {
			fmt.Printf("Cannot submit: %v\n", err)
		}
		return
	}
	fmt.Printf("Uploaded %q\n", name)
}

func (a *App) handleStatus() {
	status := a.orch.GetStatus()

	fmt.Printf("State:     %s\n", status.State)
	if status.State == orchestrator.Recording {
		fmt.Printf("Elapsed:   %ds\n", status.Elapsed)
	}
	fmt.Printf("Artifacts: %d\n", status.Artifacts)
	if status.LastErr != nil {
		fmt.Printf("Error:     %v\n", status.LastErr)
	}

	slot := status.Slot
	switch slot.Source.Kind {
	case playback.SourceNone:
		fmt.Println("Playback:  stopped")
	case playback.SourceLocal:
		fmt.Printf("Playback:  local take, %ds\n", slot.Elapsed)
	case playback.SourceLibrary:
		fmt.Printf("Playback:  %s (%s), %ds\n", slot.Source.EntryID, slot.Source.VariantTag, slot.Elapsed)
	}
}

func listDevices(driver audio.AudioDriver) {
	devices, err := driver.ListDevices()
	if err != nil {
		fmt.Printf("Failed to list devices: %v\n", err)
		return
	}

	if len(devices) == 0 {
		fmt.Println("No input devices found")
		return
	}

	for _, d := range devices {
		fmt.Printf("%3d  %s\n", d.ID, d.Name)
	}
}

// runServe runs the recording library server standalone.
func runServe() {
	loggerConfig := logger.DefaultConfig()
	appLogger, err := logger.New(loggerConfig)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	serverConfig := libserver.DefaultConfig()
	serverConfig.Host = cfg.ServerHost
	serverConfig.Port = cfg.ServerPort

	server := libserver.New(serverConfig, libserver.NewStore(), appLogger)
	if err := server.Start(); err != nil {
		appLogger.Error("Failed to start server: %v", err)
		log.Fatalf("Failed to start server: %v", err)
	}

	fmt.Printf("memovox library server listening on %s\n", server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("Shutting down library server")
	if err := server.Stop(); err != nil {
		appLogger.Error("Server shutdown failed: %v", err)
	}
}

// runDevices prints the available input devices and exits.
func runDevices() {
	driver, err := audio.NewPortAudioDriver()
	if err != nil {
		log.Fatalf("Audio unavailable: %v", err)
	}
	defer driver.Close()

	listDevices(driver)
}
