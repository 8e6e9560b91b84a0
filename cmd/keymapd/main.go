// keymapd - Keymap daemon for programmable split keyboards
//
//	keymapd run         Run the daemon in the foreground
//	keymapd start       Start the daemon in the background
//	keymapd stop        Stop a background daemon
//	keymapd status      Show whether a daemon is running
//	keymapd version     Print the version
//
// The daemon owns the keyboard: it mirrors the device state, stages
// keymap changes, commits them over raw HID, and records history.
// Clients talk to it over the unix socket with keymapctl.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"keymapd/internal/config"
	"keymapd/internal/daemon"
	"keymapd/internal/ipc"
	"keymapd/internal/logging"
)

// Version is the keymapd release version.
const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run", "serve":
		cmdRun(os.Args[2:])
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("keymapd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`keymapd - Keymap daemon for programmable split keyboards

USAGE:
    keymapd <command> [options]

COMMANDS:
    run         Run the daemon in the foreground
    start       Start the daemon in the background
    stop        Stop a background daemon
    status      Show whether a daemon is running
    version     Print the version
    help        Show this help message

RUN / START OPTIONS:
    -config <path>      Path to config file (default: ~/.keymapd/config.toml)
    -mock               Use an in-memory mock keyboard instead of hidraw
    -log-level <level>  Override the configured log level
    -instant            Start in instant mode (writes apply immediately)

The daemon finds the keyboard by the vendor/product IDs in its config,
mirrors the full keymap over raw HID, and serves keymapctl over a unix
socket. Edit with keymapctl set/commit, or flip instant mode to write
every change through as it is made.`)
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	mock := fs.Bool("mock", false, "use an in-memory mock keyboard")
	logLevel := fs.String("log-level", "", "override the configured log level")
	instant := fs.Bool("instant", false, "start in instant mode")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *mock {
		cfg.Device.Mock = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *instant {
		cfg.ChangeLog.Instant = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logging.SetDefault(log)

	pidPath := filepath.Join(config.KeymapdDir(), "keymapd.pid")
	if pid, running := readPidfile(pidPath); running {
		fmt.Fprintf(os.Stderr, "keymapd already running (PID %d)\n", pid)
		os.Exit(1)
	}
	if err := writePidfile(pidPath); err != nil {
		log.Warn("cannot write pidfile", "path", pidPath, "error", err)
	}
	defer os.Remove(pidPath)

	// The path used for hot-reload; empty when running on defaults.
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(config.ConfigPath()); err == nil {
			cfgPath = config.ConfigPath()
		}
	}

	d, err := daemon.New(cfg, cfgPath, Version, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
		os.Exit(1)
	}
}

// cmdStart launches "keymapd run" as a detached background process and
// waits for its pidfile to appear. All run options pass through as-is.
func cmdStart(args []string) {
	pidPath := filepath.Join(config.KeymapdDir(), "keymapd.pid")
	if pid, running := readPidfile(pidPath); running {
		fmt.Fprintf(os.Stderr, "keymapd already running (PID %d)\n", pid)
		os.Exit(1)
	}
	os.Remove(pidPath)

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding executable: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(exe, append([]string{"run"}, args...)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(1)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if pid, running := readPidfile(pidPath); running {
			fmt.Printf("keymapd started (PID %d)\n", pid)
			fmt.Println("Run 'keymapd status' to check it, 'keymapd stop' to stop it.")
			return
		}
	}

	fmt.Fprintln(os.Stderr, "Error: daemon did not come up; check its log output")
	fmt.Fprintln(os.Stderr, "Try 'keymapd run' in the foreground to see what is wrong.")
	os.Exit(1)
}

func cmdStop() {
	pidPath := filepath.Join(config.KeymapdDir(), "keymapd.pid")
	pid, running := readPidfile(pidPath)
	if !running {
		if pid != 0 {
			os.Remove(pidPath)
		}
		fmt.Println("keymapd is not running")
		return
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping PID %d: %v\n", pid, err)
		os.Exit(1)
	}

	// The daemon removes its own pidfile on clean shutdown.
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, still := readPidfile(pidPath); !still {
			fmt.Printf("keymapd stopped (PID %d)\n", pid)
			return
		}
	}

	fmt.Fprintf(os.Stderr, "PID %d did not exit within 5s\n", pid)
	os.Exit(1)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	pidPath := filepath.Join(config.KeymapdDir(), "keymapd.pid")
	pid, running := readPidfile(pidPath)
	switch {
	case running:
		fmt.Printf("keymapd: RUNNING (PID %d)\n", pid)
	case pid != 0:
		fmt.Printf("keymapd: STALE PID FILE (PID %d not found)\n", pid)
	default:
		fmt.Println("keymapd: NOT RUNNING")
	}

	ccfg := ipc.DefaultClientConfig(config.KeymapdDir())
	ccfg.SocketPath = cfg.IPC.SocketPath
	ccfg.ClientName = "keymapd-status"
	ccfg.ClientVersion = Version

	cli := ipc.NewClient(ccfg)
	if err := cli.Connect(); err != nil {
		fmt.Printf("socket:  %s (not responding)\n", cfg.IPC.SocketPath)
		if running {
			os.Exit(1)
		}
		return
	}
	defer cli.Close()

	start := time.Now()
	if err := cli.Ping(); err != nil {
		fmt.Printf("socket:  %s (ping failed: %v)\n", cfg.IPC.SocketPath, err)
		os.Exit(1)
	}
	fmt.Printf("socket:  %s (latency %s)\n", cfg.IPC.SocketPath, time.Since(start).Round(time.Microsecond))

	st, err := cli.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting status: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("version: %s, uptime %s\n", st.Version, st.Uptime.Round(time.Second))
	if st.Device.Connected {
		fmt.Printf("device:  %s (%dx%dx%d, protocol %d)\n",
			st.Device.Path, st.Device.Layers, st.Device.Rows, st.Device.Cols, st.Device.ProtocolVersion)
	} else {
		fmt.Println("device:  not attached")
	}
	fmt.Printf("pending: %d changes", st.PendingChanges)
	if st.InstantMode {
		fmt.Print(" (instant mode)")
	}
	fmt.Println()
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	format := logging.FormatText
	if strings.EqualFold(cfg.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	return logging.New(&logging.Config{
		Level:    level,
		Format:   format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
		MaxSize:  int64(cfg.Logging.MaxSizeMB),
	})
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600)
}

// readPidfile reports the recorded PID and whether that process is
// still alive.
func readPidfile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}
