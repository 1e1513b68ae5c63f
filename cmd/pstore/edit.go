package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/hupe1980/pstore"
	"github.com/hupe1980/pstore/blob"
	"github.com/hupe1980/pstore/index"
)

// WriteCmd stores a file in the write index.
type WriteCmd struct {
	Store string `arg:"" help:"Path to the store (created if missing)" type:"path"`
	Name  string `arg:"" help:"Key in the write index"`
	File  string `arg:"" help:"File to store, or - for stdin"`
	Codec string `default:"none" enum:"none,lz4,zstd" help:"Compression codec (none, lz4, zstd)"`
}

func (c *WriteCmd) Run(g *Globals) error {
	data, err := c.read(g)
	if err != nil {
		return err
	}
	codec, err := blob.ParseCodec(c.Codec)
	if err != nil {
		return err
	}

	db, err := g.open(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := index.Load(tx, pstore.WriteIndex)
	if err != nil {
		return err
	}
	e, err := blob.Write(tx, data, codec)
	if err != nil {
		return err
	}
	if err := t.Put(c.Name, e); err != nil {
		return err
	}
	if _, err := t.Flush(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.Out, "generation %d: %s (%d bytes at %s)\n", db.Generation(), c.Name, e.Size, e.Addr.Address)
	return err
}

func (c *WriteCmd) read(g *Globals) ([]byte, error) {
	if c.File == "-" {
		return io.ReadAll(g.In)
	}
	return os.ReadFile(c.File)
}

// ReadCmd copies a value from the write index to stdout.
type ReadCmd struct {
	Store      string `arg:"" help:"Path to the store" type:"existingfile"`
	Name       string `arg:"" help:"Key in the write index"`
	Generation int64  `short:"r" default:"-1" help:"Generation to read (default: the head)"`
}

func (c *ReadCmd) Run(g *Globals) error {
	db, err := g.openReadOnly(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Generation >= 0 {
		if err := db.Sync(uint32(c.Generation)); err != nil {
			return err
		}
	}

	t, err := index.Load(db, pstore.WriteIndex)
	if err != nil {
		return err
	}
	e, ok := t.Get(c.Name)
	if !ok {
		return fmt.Errorf("%s: not found in generation %d", c.Name, db.Generation())
	}
	data, err := blob.Read(db, e)
	if err != nil {
		return err
	}
	_, err = g.Out.Write(data)
	return err
}

// LockCmd holds the transaction lock, reporting each step on stdout.
type LockCmd struct {
	Store  string        `arg:"" help:"Path to the store" type:"existingfile"`
	Vacuum bool          `help:"Hold the vacuum lock instead of the transaction lock"`
	Delay  time.Duration `default:"2s" help:"Report blocked after waiting this long"`
}

func (c *LockCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := g.open(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Fprintln(g.Out, "pre-lock")

	acquired := make(chan struct{})
	notified := make(chan struct{})
	go func() {
		defer close(notified)
		select {
		case <-acquired:
		case <-time.After(c.Delay):
			fmt.Fprintln(g.Out, "blocked")
		}
	}()

	release, err := c.acquire(db)
	close(acquired)
	<-notified
	if err != nil {
		return err
	}
	fmt.Fprintln(g.Out, "holding-lock")

	waitForLine(ctx, g.In)
	if err := release(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.Out, "done")
	return err
}

func (c *LockCmd) acquire(db *pstore.Database) (func() error, error) {
	if c.Vacuum {
		return db.LockVacuum()
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	return tx.Commit, nil
}

// waitForLine returns after one line of in was read, in closed, or ctx
// done.
func waitForLine(ctx context.Context, in io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = bufio.NewReader(in).ReadString('\n')
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
