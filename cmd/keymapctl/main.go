// keymapctl is the control CLI for keymapd.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"keymapd/internal/config"
	"keymapd/internal/ipc"
)

// Version is the keymapctl release version.
const Version = "1.0.0"

var (
	configPath = flag.String("config", "", "path to config file")
	noColor    = flag.Bool("no-color", false, "disable colored output")
)

var (
	dim     = color.New(color.Faint).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	boldFmt = color.New(color.Bold).SprintFunc()
)

func main() {
	flag.Parse()
	if *noColor {
		color.NoColor = true
	}

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "status":
		cmdStatus()
	case "ping":
		cmdPing()
	case "layers":
		cmdLayers(args)
	case "get":
		cmdGet(args)
	case "set":
		cmdSet(args)
	case "mods":
		cmdMods(args)
	case "pending":
		cmdPending()
	case "commit":
		cmdCommit()
	case "revert":
		cmdRevert()
	case "clear":
		cmdClear()
	case "instant":
		cmdInstant(args)
	case "history":
		cmdHistory(args)
	case "export":
		cmdExport(args)
	case "import":
		cmdImport(args)
	case "snapshot":
		cmdSnapshot(args)
	case "watch":
		cmdWatch()
	case "version":
		fmt.Printf("keymapctl %s\n", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keymapctl - Control utility for keymapd

Usage: keymapctl [options] <command> [args]

Commands:
  status                     Show daemon and device status
  ping                       Check whether the daemon responds
  layers [-l N]              Print the key grid of every layer (or one)
  get <address>              Show the key at an address ("key:0.2.3")
  set <address> <keycode>    Stage a keycode at an address
  mods <address> <mods>      Toggle modifiers on a key (-tap for hold-tap)
  pending                    List staged changes
  commit                     Write staged changes to the keyboard
  revert                     Restore baselines for staged changes
  clear                      Drop staged changes without writing
  instant <on|off>           Toggle instant mode
  history [-n N] [-batch ID] Show applied-change history
  export [file]              Export the layout as JSON
  import <file>              Stage a layout file onto the keyboard
  snapshot <save|list|restore> [name]
                             Manage named layout snapshots
  watch                      Stream daemon events
  version                    Print the version
  help                       Show this help message

Options:
  -config <path>  Path to config file (default: ~/.keymapd/config.toml)
  -no-color       Disable colored output`)
}

// connect dials the daemon, exiting with a hint when it is not running.
func connect() *ipc.Client {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Error loading config: %v", err)
	}

	ccfg := ipc.DefaultClientConfig(config.KeymapdDir())
	ccfg.SocketPath = cfg.IPC.SocketPath
	ccfg.ClientName = "keymapctl"
	ccfg.ClientVersion = Version

	cli := ipc.NewClient(ccfg)
	if err := cli.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "%s cannot connect to daemon: %v\n", red("error:"), err)
		fmt.Fprintf(os.Stderr, "  %s start the daemon with: keymapd run\n", dim("tip:"))
		os.Exit(1)
	}
	return cli
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", red("error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
