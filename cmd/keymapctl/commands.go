package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"keymapd/internal/ipc"
)

func cmdStatus() {
	cli := connect()
	defer cli.Close()

	st, err := cli.Status()
	if err != nil {
		fatalf("failed to get status: %v", err)
	}

	fmt.Printf("%s\n\n", boldFmt("DAEMON"))
	fmt.Printf("  %s  %s\n", dim("version"), cyan(st.Version))
	fmt.Printf("  %s   %s\n", dim("uptime"), st.Uptime.Round(time.Second))
	fmt.Printf("  %s  %d\n", dim("clients"), st.Clients)

	fmt.Printf("\n%s\n\n", boldFmt("DEVICE"))
	if st.Device.Connected {
		fmt.Printf("  %s    %s\n", dim("state"), green("CONNECTED"))
		fmt.Printf("  %s     %s\n", dim("path"), st.Device.Path)
		fmt.Printf("  %s   %d layers, %dx%d matrix\n", dim("layout"),
			st.Device.Layers, st.Device.Rows, st.Device.Cols)
		fmt.Printf("  %s %d combos, %d macros, %d tap dances\n", dim("features"),
			st.Device.Combos, st.Device.Macros, st.Device.TapDances)
		fmt.Printf("  %s %d\n", dim("protocol"), st.Device.ProtocolVersion)
	} else {
		fmt.Printf("  %s    %s\n", dim("state"), yellow("NOT ATTACHED"))
	}

	fmt.Printf("\n%s\n\n", boldFmt("CHANGES"))
	fmt.Printf("  %s  %d\n", dim("pending"), st.PendingChanges)
	if st.InstantMode {
		fmt.Printf("  %s     %s\n", dim("mode"), yellow("instant"))
	} else {
		fmt.Printf("  %s     staged\n", dim("mode"))
	}
	if st.Fingerprint != "" {
		fmt.Printf("  %s   %s\n", dim("layout"), shortFP(st.Fingerprint))
	}
	fmt.Println()
}

func cmdPing() {
	cli := connect()
	defer cli.Close()

	start := time.Now()
	if err := cli.Ping(); err != nil {
		fmt.Printf("daemon: %s (%v)\n", red("NOT RESPONDING"), err)
		os.Exit(1)
	}
	fmt.Printf("daemon: %s (latency %s)\n", green("RUNNING"), time.Since(start).Round(time.Microsecond))
}

// cmdLayers prints the key grid of every layer, or a single layer
// with -l. Cells come from the daemon's layout export, so each one is
// in a spelling "set" accepts back.
func cmdLayers(args []string) {
	fs := flag.NewFlagSet("layers", flag.ExitOnError)
	layer := fs.Int("l", -1, "print only this layer")
	fs.Parse(args)

	cli := connect()
	defer cli.Close()

	resp, err := cli.GetLayout()
	if err != nil {
		fatalf("%v", err)
	}

	var doc struct {
		Layers [][][]string `json:"layers"`
	}
	if err := json.Unmarshal(resp.Layout, &doc); err != nil {
		fatalf("bad layout from daemon: %v", err)
	}
	if *layer >= len(doc.Layers) {
		fatalf("no layer %d (device has %d)", *layer, len(doc.Layers))
	}

	// One column width across all layers keeps the grids aligned.
	width := 0
	for _, l := range doc.Layers {
		for _, row := range l {
			for _, cell := range row {
				if len(cell) > width {
					width = len(cell)
				}
			}
		}
	}

	for i, l := range doc.Layers {
		if *layer >= 0 && i != *layer {
			continue
		}
		fmt.Printf("%s\n", boldFmt(fmt.Sprintf("LAYER %d", i)))
		for _, row := range l {
			fmt.Print("  ")
			for c, cell := range row {
				if c > 0 {
					fmt.Print("  ")
				}
				padded := fmt.Sprintf("%-*s", width, cell)
				if cell == "KC_NO" || cell == "KC_TRNS" {
					fmt.Print(dim(padded))
				} else {
					fmt.Print(padded)
				}
			}
			fmt.Println()
		}
		fmt.Println()
	}
}

func cmdGet(args []string) {
	if len(args) < 1 {
		fatalf("usage: keymapctl get <address>")
	}

	cli := connect()
	defer cli.Close()

	resp, err := cli.GetKey(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("%s  %s", resp.Address, cyan(resp.Keycode))
	if resp.Pending {
		fmt.Printf("  %s", yellow("(staged change pending)"))
	}
	fmt.Printf("  %s\n", dim(fmt.Sprintf("raw=0x%04X", resp.Raw)))
}

func cmdSet(args []string) {
	if len(args) < 2 {
		fatalf("usage: keymapctl set <address> <keycode>")
	}

	cli := connect()
	defer cli.Close()

	resp, err := cli.SetKey(args[0], args[1])
	if err != nil {
		fatalf("%v", err)
	}

	printChange(resp.Address, resp.Old, resp.New)
	if resp.Applied {
		fmt.Printf("  %s\n", green("written to keyboard (instant mode)"))
	} else {
		fmt.Printf("  %s\n", dim(fmt.Sprintf("staged (%d pending, commit to apply)", resp.Pending)))
	}
}

func cmdMods(args []string) {
	fs := flag.NewFlagSet("mods", flag.ExitOnError)
	tap := fs.Bool("tap", false, "hold-for-mods, tap-for-key wrapping")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fatalf("usage: keymapctl mods [-tap] <address> <modifiers>")
	}

	cli := connect()
	defer cli.Close()

	resp, err := cli.Recompose(fs.Arg(0), fs.Arg(1), *tap)
	if err != nil {
		fatalf("%v", err)
	}

	printChange(resp.Address, resp.Old, resp.New)
	if resp.Pending > 0 {
		fmt.Printf("  %s\n", dim(fmt.Sprintf("staged (%d pending, commit to apply)", resp.Pending)))
	}
}

func cmdPending() {
	cli := connect()
	defer cli.Close()

	resp, err := cli.Pending()
	if err != nil {
		fatalf("%v", err)
	}

	if len(resp.Changes) == 0 {
		fmt.Println(dim("no staged changes"))
		return
	}

	mode := "staged"
	if resp.Instant {
		mode = "instant"
	}
	fmt.Printf("%s %s\n\n", boldFmt(fmt.Sprintf("%d STAGED", len(resp.Changes))), dim("("+mode+" mode)"))
	for _, ch := range resp.Changes {
		printChange(ch.Address, ch.Old, ch.New)
	}
	fmt.Println()
	fmt.Println(dim("commit to write, revert to roll back, clear to drop"))
}

func cmdCommit() {
	cli := connect()
	defer cli.Close()

	resp, err := cli.Commit()
	if err != nil {
		fatalf("%v", err)
	}

	if resp.Error != "" {
		fmt.Printf("%s applied %d, %d left\n", red("COMMIT INCOMPLETE:"), resp.Applied, resp.Remaining)
		if resp.FailedAddr != "" {
			fmt.Printf("  %s %s\n", dim("failed at"), resp.FailedAddr)
		}
		fmt.Printf("  %s\n", resp.Error)
		os.Exit(1)
	}

	if resp.Applied == 0 {
		fmt.Println(dim("nothing to commit"))
		return
	}
	fmt.Printf("%s %d changes written\n", green("COMMITTED:"), resp.Applied)
	fmt.Printf("  %s %s\n", dim("batch"), cyan(resp.BatchID))
	fmt.Printf("  %s %s\n", dim("layout"), shortFP(resp.Fingerprint))
}

func cmdRevert() {
	cli := connect()
	defer cli.Close()

	resp, err := cli.Revert()
	if err != nil {
		fatalf("%v", err)
	}
	if resp.Error != "" {
		fmt.Printf("%s restored %d, %d left: %s\n", red("REVERT INCOMPLETE:"),
			resp.Restored, resp.Remaining, resp.Error)
		os.Exit(1)
	}
	if resp.Restored == 0 {
		fmt.Println(dim("nothing to revert"))
		return
	}
	fmt.Printf("%s %d changes rolled back\n", green("REVERTED:"), resp.Restored)
}

func cmdClear() {
	cli := connect()
	defer cli.Close()

	resp, err := cli.Clear()
	if err != nil {
		fatalf("%v", err)
	}
	if resp.Dropped == 0 {
		fmt.Println(dim("nothing to clear"))
		return
	}
	fmt.Printf("dropped %d staged changes\n", resp.Dropped)
}

func cmdInstant(args []string) {
	if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
		fatalf("usage: keymapctl instant <on|off>")
	}

	cli := connect()
	defer cli.Close()

	resp, err := cli.SetInstant(args[0] == "on")
	if err != nil {
		fatalf("%v", err)
	}

	if resp.Instant {
		fmt.Printf("instant mode %s %s\n", green("ON"), dim("(changes write through immediately)"))
	} else {
		fmt.Printf("instant mode %s %s\n", yellow("OFF"), dim("(changes stage until commit)"))
	}
	if resp.Pending > 0 {
		fmt.Printf("  %s\n", yellow(fmt.Sprintf("%d staged changes still pending", resp.Pending)))
	}
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of entries to show")
	batch := fs.String("batch", "", "show one commit batch")
	fs.Parse(args)

	cli := connect()
	defer cli.Close()

	var (
		resp *ipc.GetHistoryResponse
		err  error
	)
	if *batch != "" {
		resp, err = cli.HistoryForBatch(*batch)
	} else {
		resp, err = cli.History(*limit, 0)
	}
	if err != nil {
		fatalf("%v", err)
	}

	if len(resp.Entries) == 0 {
		fmt.Println(dim("no history"))
		return
	}

	lastBatch := ""
	for _, e := range resp.Entries {
		if e.BatchID != lastBatch {
			fmt.Printf("%s %s %s\n", cyan(shortFP(e.BatchID)),
				dim(e.AppliedAt.Format("2006-01-02 15:04:05")), dim("batch"))
			lastBatch = e.BatchID
		}
		fmt.Print("  ")
		printChange(e.Address, e.Old, e.New)
	}
}

func cmdExport(args []string) {
	cli := connect()
	defer cli.Close()

	resp, err := cli.ExportLayout()
	if err != nil {
		fatalf("%v", err)
	}

	if len(args) == 0 || args[0] == "-" {
		os.Stdout.Write(resp.Layout)
		return
	}

	if err := os.WriteFile(args[0], resp.Layout, 0644); err != nil {
		fatalf("write %s: %v", args[0], err)
	}
	fmt.Printf("layout exported to %s %s\n", args[0], dim("(fingerprint "+shortFP(resp.Fingerprint)+")"))
}

func cmdImport(args []string) {
	if len(args) < 1 {
		fatalf("usage: keymapctl import <file>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fatalf("read %s: %v", args[0], err)
	}

	cli := connect()
	defer cli.Close()

	resp, err := cli.ImportLayout(data)
	if err != nil {
		fatalf("%v", err)
	}

	if resp.Queued == 0 {
		fmt.Println(dim("layout matches the keyboard, nothing to do"))
		return
	}
	if resp.Applied {
		fmt.Printf("%s %d changes written (instant mode)\n", green("IMPORTED:"), resp.Queued)
	} else {
		fmt.Printf("staged %d changes from %s %s\n", resp.Queued, args[0], dim("(commit to apply)"))
	}
}

func cmdSnapshot(args []string) {
	if len(args) < 1 {
		fatalf("usage: keymapctl snapshot <save|list|restore> [name]")
	}

	cli := connect()
	defer cli.Close()

	switch args[0] {
	case "save":
		if len(args) < 2 {
			fatalf("usage: keymapctl snapshot save <name>")
		}
		resp, err := cli.SnapshotSave(args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("snapshot %s saved %s\n", cyan(resp.Name), dim("(fingerprint "+shortFP(resp.Fingerprint)+")"))

	case "list":
		resp, err := cli.SnapshotList()
		if err != nil {
			fatalf("%v", err)
		}
		if len(resp.Snapshots) == 0 {
			fmt.Println(dim("no snapshots saved"))
			return
		}
		for _, s := range resp.Snapshots {
			fmt.Printf("%s  %s  %s\n", cyan(s.Name),
				dim(s.CreatedAt.Format("2006-01-02 15:04")), dim(shortFP(s.Fingerprint)))
		}

	case "restore":
		if len(args) < 2 {
			fatalf("usage: keymapctl snapshot restore <name>")
		}
		resp, err := cli.SnapshotRestore(args[1])
		if err != nil {
			fatalf("%v", err)
		}
		if resp.Queued == 0 {
			fmt.Println(dim("keyboard already matches the snapshot"))
			return
		}
		if resp.Applied {
			fmt.Printf("%s %d changes written from %s\n", green("RESTORED:"), resp.Queued, cyan(resp.Name))
		} else {
			fmt.Printf("staged %d changes from snapshot %s %s\n", resp.Queued, cyan(resp.Name), dim("(commit to apply)"))
		}

	default:
		fatalf("unknown snapshot action: %s", args[0])
	}
}

func cmdWatch() {
	cli := connect()
	defer cli.Close()

	if err := cli.Subscribe(nil); err != nil {
		fatalf("subscribe: %v", err)
	}

	fmt.Println(dim("watching daemon events, Ctrl+C to stop"))
	for ev := range cli.Events() {
		ts := ev.Timestamp.Format("15:04:05")
		name := eventName(ev.Type)
		if ev.Data != nil {
			data, _ := json.Marshal(ev.Data)
			fmt.Printf("[%s] %s %s\n", dim(ts), cyan(name), string(data))
		} else {
			fmt.Printf("[%s] %s\n", dim(ts), cyan(name))
		}
		if ev.Type == ipc.EventDaemonShutdown {
			return
		}
	}
}

// printChange renders one old -> new transition.
func printChange(address, from, to string) {
	if from == "" {
		fmt.Printf("%s  %s\n", address, green(to))
		return
	}
	fmt.Printf("%s  %s %s %s\n", address, red(from), dim("->"), green(to))
}

// shortFP abbreviates a fingerprint or batch ID for display.
func shortFP(s string) string {
	if len(s) > 12 {
		return s[:12] + "..."
	}
	return s
}

func eventName(et ipc.EventType) string {
	switch et {
	case ipc.EventDeviceAttached:
		return "DeviceAttached"
	case ipc.EventDeviceDetached:
		return "DeviceDetached"
	case ipc.EventCommitApplied:
		return "CommitApplied"
	case ipc.EventPendingChanged:
		return "PendingChanged"
	case ipc.EventInstantChanged:
		return "InstantChanged"
	case ipc.EventConfigReloaded:
		return "ConfigReloaded"
	case ipc.EventDaemonShutdown:
		return "DaemonShutdown"
	default:
		return fmt.Sprintf("Unknown(%d)", et)
	}
}
