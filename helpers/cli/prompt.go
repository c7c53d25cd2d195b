package cli

import (
	"bytes"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
	"github.com/temoto/sensorgate/log2"
)

// MainLoop reads commands from terminal with completion, or all stdin lines when piped.
// Returns on stdin EOF. Termination signals call interrupt, nil interrupt exits process.
func MainLoop(tag string, log *log2.Log, interrupt func(), exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		for range signalCh {
			if interrupt == nil {
				os.Exit(1)
			}
			interrupt()
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return
	}
	RunLines(os.Stdin, log, exec)
}

// RunLines executes each trimmed non-empty line of r.
func RunLines(r io.Reader, log *log2.Log, exec func(line string)) {
	all, err := io.ReadAll(r)
	if err != nil {
		log.Fatal(err)
	}
	for _, lineb := range bytes.Split(all, []byte{'\n'}) {
		line := string(bytes.TrimSpace(lineb))
		if line != "" {
			exec(line)
		}
	}
}
