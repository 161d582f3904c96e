// kernsim boots the kernel with a few demo programs and lets a script or an
// interactive console issue system calls as the running task.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	tty "github.com/mattn/go-tty"

	"kernos/pkg/kernel"
)

// demoScript runs when neither -script nor -i is given.
const demoScript = `
# two children, one forked and one spawned
fork
spawn worker
ps
# let the children run; the forked child exits at once
yield
exit 3
# the worker grows its heap and maps a page
sbrk 8192
mmap 0x80000 4096 3
info
exit 0
# back in init: collect both
waitpid -1
waitpid -1
waitpid -1
prio 8
time
ps
exit 0
`

func main() {
	cfg, err := kernel.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var (
		script = flag.String("script", "", "run commands from `file` (- for stdin)")
		inter  = flag.Bool("i", false, "interactive console on the terminal")
		frames = flag.Int("frames", cfg.Frames, "physical frames available to user memory")
		trace  = flag.Bool("trace", cfg.Trace, "log every system call")
		initN  = flag.String("init", "init", "`image` to boot as the init task")
		images imageFlags
	)
	flag.Var(&images, "image", "register the ELF file at path as `name=path` (repeatable)")
	flag.Parse()

	cfg.Frames = *frames
	cfg.Trace = *trace
	cfg.Logger = log.New(os.Stderr, "", log.Lmicroseconds)

	registry := demoImages()
	if err := images.register(registry); err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	k := kernel.New(cfg, registry)
	if err := k.Boot(*initN); err != nil {
		log.Fatalf("Failed to boot %s: %v", *initN, err)
	}
	sh := &shell{k: k, out: os.Stdout}

	switch {
	case *inter:
		err = interactive(sh)
	case *script == "-":
		err = runScript(sh, os.Stdin, false)
	case *script != "":
		var f *os.File
		if f, err = os.Open(*script); err == nil {
			err = runScript(sh, f, true)
			f.Close()
		}
	default:
		fmt.Println("=== kernsim demo ===")
		err = runScript(sh, strings.NewReader(demoScript), true)
	}
	if err != nil {
		log.Fatal(err)
	}

	if halted, code := k.Halted(); halted && code != 0 {
		os.Exit(int(code) & 0xff)
	}
}

// runScript executes one command per line. With echo set every command is
// printed before it runs.
func runScript(sh *shell, r io.Reader, echo bool) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if echo && text != "" && !strings.HasPrefix(text, "#") {
			fmt.Fprintf(sh.out, "$ %s\n", text)
		}
		if err := sh.Run(text); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// interactive reads commands from the terminal until quit or EOF.
func interactive(sh *shell) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer t.Close()

	sh.out = t.Output()
	fmt.Fprintln(sh.out, "kernsim: type help for commands, quit to leave")
	for {
		fmt.Fprintf(sh.out, "[%d]> ", sh.pid())
		line, err := t.ReadString()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := sh.Run(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}
