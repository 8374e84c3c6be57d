// sectorshell is an interactive shell over a pintosfs sector filesystem.
//
// Usage:
//
//	sectorshell [options]
//
// Options:
//
//	-d, --device     Path to the backing disk image
//	-c, --config     Path to an explicit config file (JSONC)
//	-s, --sectors    Sector count to format with, if the device doesn't exist
//	-f, --format     Force formatting the device even if it already exists
//	    --print-config   Print the resolved configuration and exit
//	    --save-config    Write the resolved configuration to a path and exit
//
// Commands (in REPL):
//
//	ls [path]              List a directory's entries (default: cwd)
//	cd <path>              Change the current working directory
//	pwd                    Print the current working directory
//	mkdir <path>           Create a directory
//	create <path> [size]   Create an empty file
//	cat <path>             Print a file's contents
//	write <path> <text>    Overwrite a file's contents starting at offset 0
//	rm <path>              Remove a file or empty directory
//	stat <path>            Show inode number, kind and size
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/minkikim98/pintosfs/internal/config"
	"github.com/minkikim98/pintosfs/pkg/fs"
	"github.com/minkikim98/pintosfs/pkg/fsys"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := flag.NewFlagSet("sectorshell", flag.ContinueOnError)

	devicePath := flagSet.StringP("device", "d", "", "path to the backing disk image")
	configPath := flagSet.StringP("config", "c", "", "path to an explicit config file")
	sectorCount := flagSet.Uint32P("sectors", "s", 0, "sector count to format with, if the device doesn't exist")
	forceFormat := flagSet.BoolP("format", "f", false, "force formatting the device even if it already exists")
	printConfig := flagSet.Bool("print-config", false, "print the resolved configuration and exit")
	saveConfig := flagSet.String("save-config", "", "write the resolved configuration to this path and exit")

	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sectorshell [options]\n\nOptions:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining working directory: %w", err)
	}

	overrides := config.Config{DevicePath: *devicePath}
	cfg, _, err := config.LoadConfig(workDir, *configPath, overrides, *devicePath != "", os.Environ())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if *sectorCount != 0 {
		cfg.SectorCount = *sectorCount
	}

	if *forceFormat {
		cfg.FormatOnInit = true
	}

	if *printConfig {
		out, err := config.FormatConfig(cfg)
		if err != nil {
			return err
		}

		fmt.Println(out)

		return nil
	}

	if *saveConfig != "" {
		savePath := *saveConfig
		if !filepath.IsAbs(savePath) {
			savePath = filepath.Join(workDir, savePath)
		}

		if err := config.Save(fs.NewReal(), cfg, savePath); err != nil {
			return err
		}

		fmt.Printf("wrote config to %s\n", savePath)

		return nil
	}

	devicePathAbs := cfg.DevicePath
	if !filepath.IsAbs(devicePathAbs) {
		devicePathAbs = filepath.Join(workDir, devicePathAbs)
	}

	real := fs.NewReal()

	needsFormat := *forceFormat
	if !needsFormat {
		exists, existsErr := real.Exists(devicePathAbs)
		if existsErr != nil {
			return fmt.Errorf("checking %s: %w", devicePathAbs, existsErr)
		}

		needsFormat = !exists && cfg.FormatOnInit
	}

	if needsFormat {
		if *forceFormat {
			_ = real.Remove(devicePathAbs)
		}

		log.Printf("formatting %s (%d sectors)", devicePathAbs, cfg.SectorCount)

		if err := fsys.Format(real, devicePathAbs, cfg.SectorCount); err != nil {
			return fmt.Errorf("formatting %s: %w", devicePathAbs, err)
		}
	}

	f, err := fsys.Init(real, devicePathAbs)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", devicePathAbs, err)
	}
	defer func() { _ = f.Done() }()

	p, err := f.NewProcess()
	if err != nil {
		return fmt.Errorf("opening process: %w", err)
	}
	defer func() { _ = p.Exit() }()

	repl := &REPL{fs: f, p: p, cwd: "/"}

	return repl.Run()
}

// REPL is the interactive command loop driving one Process over the syscall
// table (spec.md §6).
type REPL struct {
	fs    *fsys.FileSystem
	p     *fsys.Process
	cwd   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".sectorshell_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("sectorshell - pintosfs shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt(r.cwd + "> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "ls":
			r.cmdLs(args)

		case "cd":
			r.cmdCd(args)

		case "pwd":
			fmt.Println(r.cwd)

		case "mkdir":
			r.cmdMkdir(args)

		case "create":
			r.cmdCreate(args)

		case "cat":
			r.cmdCat(args)

		case "write":
			r.cmdWrite(args)

		case "rm":
			r.cmdRm(args)

		case "stat":
			r.cmdStat(args)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"ls", "cd", "pwd", "mkdir", "create", "cat", "write", "rm", "stat",
		"help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  ls [path]              List a directory's entries (default: cwd)")
	fmt.Println("  cd <path>              Change the current working directory")
	fmt.Println("  pwd                    Print the current working directory")
	fmt.Println("  mkdir <path>           Create a directory")
	fmt.Println("  create <path> [size]   Create an empty file")
	fmt.Println("  cat <path>             Print a file's contents")
	fmt.Println("  write <path> <text>    Overwrite a file's contents starting at offset 0")
	fmt.Println("  rm <path>              Remove a file or empty directory")
	fmt.Println("  stat <path>            Show inode number, kind and size")
	fmt.Println("  help                   Show this help")
	fmt.Println("  exit / quit / q        Exit")
}

func (r *REPL) cmdLs(args []string) {
	path := "."
	if len(args) >= 1 {
		path = args[0]
	}

	h, err := r.p.Open(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}
	defer func() { _ = r.p.Close(h) }()

	isDir, err := r.p.IsDir(h)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	if !isDir {
		fmt.Println(path)

		return
	}

	var names []string

	for {
		name, ok, err := r.p.Readdir(h)
		if err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		if !ok {
			break
		}

		names = append(names, name)
	}

	for _, name := range names {
		fmt.Println(name)
	}
}

func (r *REPL) cmdCd(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: cd <path>")

		return
	}

	if err := r.p.Chdir(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	r.cwd = normalizeDisplayPath(r.cwd, args[0])
}

// normalizeDisplayPath updates the shell's own display-only notion of the
// current directory; it never drives resolution, only the prompt.
func normalizeDisplayPath(cwd, target string) string {
	var joined string

	if strings.HasPrefix(target, "/") {
		joined = target
	} else {
		joined = cwd + "/" + target
	}

	parts := strings.Split(joined, "/")
	stack := make([]string, 0, len(parts))

	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	if len(stack) == 0 {
		return "/"
	}

	return "/" + strings.Join(stack, "/")
}

func (r *REPL) cmdMkdir(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: mkdir <path>")

		return
	}

	if err := r.p.Mkdir(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdCreate(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: create <path> [size]")

		return
	}

	var size int64

	if len(args) >= 2 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Printf("Error parsing size: %v\n", err)

			return
		}

		size = n
	}

	if err := r.p.Create(args[0], size); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdCat(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: cat <path>")

		return
	}

	h, err := r.p.Open(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}
	defer func() { _ = r.p.Close(h) }()

	size, err := r.p.Filesize(h)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	buf := make([]byte, size)

	if _, err := r.p.Read(h, buf); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	os.Stdout.Write(buf)
	fmt.Println()
}

func (r *REPL) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: write <path> <text>")

		return
	}

	h, err := r.p.Open(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}
	defer func() { _ = r.p.Close(h) }()

	if err := r.p.Seek(h, 0); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	text := strings.Join(args[1:], " ")

	n, err := r.p.Write(h, []byte(text))
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Printf("OK: wrote %d bytes\n", n)
}

func (r *REPL) cmdRm(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: rm <path>")

		return
	}

	if err := r.p.Remove(args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	fmt.Println("OK")
}

func (r *REPL) cmdStat(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: stat <path>")

		return
	}

	h, err := r.p.Open(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}
	defer func() { _ = r.p.Close(h) }()

	inumber, err := r.p.Inumber(h)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	isDir, err := r.p.IsDir(h)
	if err != nil {
		fmt.Printf("Error: %v\n", err)

		return
	}

	kind := "file"
	if isDir {
		kind = "directory"
	}

	fmt.Printf("Inumber: %d\n", inumber)
	fmt.Printf("Kind:    %s\n", kind)

	if !isDir {
		size, err := r.p.Filesize(h)
		if err != nil {
			fmt.Printf("Error: %v\n", err)

			return
		}

		fmt.Printf("Size:    %d bytes\n", size)
	}
}
