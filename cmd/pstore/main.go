// Command pstore inspects and edits store files.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hupe1980/pstore"
)

const version = "0.1.0"

// CLI defines the command-line interface for pstore.
var CLI struct {
	LogLevel string `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Library log level (debug, info, warn, error)"`

	Info        InfoCmd        `cmd:"" help:"Print the header and the head trailer as YAML"`
	Generations GenerationsCmd `cmd:"" help:"List the generation chain, newest first"`
	Write       WriteCmd       `cmd:"" help:"Store a file under a name in the write index"`
	Read        ReadCmd        `cmd:"" help:"Copy a named value from the write index to stdout"`
	Lock        LockCmd        `cmd:"" help:"Hold the transaction lock until a line is read from stdin"`
	Dump        DumpCmd        `cmd:"" help:"Dump every trailer and the head index tables as YAML"`
	Version     VersionCmd     `cmd:"" help:"Print version information"`
}

// Globals carries the streams and library options shared by all commands.
type Globals struct {
	In     io.Reader
	Out    io.Writer
	Err    io.Writer
	Logger *slog.Logger
}

func (g *Globals) open(path string, opts ...pstore.Option) (*pstore.Database, error) {
	if g.Logger != nil {
		opts = append(opts, pstore.WithLogger(g.Logger))
	}
	return pstore.Open(path, opts...)
}

func (g *Globals) openReadOnly(path string) (*pstore.Database, error) {
	return g.open(path, pstore.WithReadOnly())
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return l
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("pstore"),
		kong.Description("Inspect and edit pstore database files"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	g := &Globals{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(CLI.LogLevel),
		})),
	}
	err := ctx.Run(g)
	ctx.FatalIfErrorf(err)
}
