package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/pstore"
	"github.com/hupe1980/pstore/index"
)

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Out, "pstore %s (file format %d.%d)\n", version, pstore.VersionMajor, pstore.VersionMinor)
	return err
}

type trailerReport struct {
	Generation uint32            `yaml:"generation"`
	Pos        string            `yaml:"pos"`
	Size       uint64            `yaml:"size"`
	Time       string            `yaml:"time"`
	Prev       string            `yaml:"prev,omitempty"`
	Indexes    map[string]string `yaml:"indexes,omitempty"`
}

func newTrailerReport(pos pstore.TypedAddress[pstore.Trailer], t pstore.Trailer) trailerReport {
	r := trailerReport{
		Generation: t.Generation,
		Pos:        pos.Address.String(),
		Size:       t.Size,
		Time:       t.CommitTime().UTC().Format(time.RFC3339Nano),
	}
	if !t.PrevGeneration.IsNull() {
		r.Prev = t.PrevGeneration.Address.String()
	}
	for _, k := range pstore.IndexKinds() {
		if root := t.IndexRoot(k); !root.IsNull() {
			if r.Indexes == nil {
				r.Indexes = make(map[string]string)
			}
			r.Indexes[k.String()] = root.Address.String()
		}
	}
	return r
}

type headerReport struct {
	Path      string `yaml:"path"`
	ID        string `yaml:"id"`
	Version   string `yaml:"version"`
	FooterPos string `yaml:"footer_pos"`
	Size      uint64 `yaml:"size"`
}

func newHeaderReport(db *pstore.Database) headerReport {
	h := db.Header()
	return headerReport{
		Path:      db.Path(),
		ID:        h.ID.String(),
		Version:   fmt.Sprintf("%d.%d", h.Version[0], h.Version[1]),
		FooterPos: h.FooterPos.Address.String(),
		Size:      db.Size(),
	}
}

func encodeYAML(g *Globals, v any) error {
	enc := yaml.NewEncoder(g.Out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// InfoCmd prints the header and the head trailer.
type InfoCmd struct {
	Store string `arg:"" help:"Path to the store" type:"existingfile"`
}

func (c *InfoCmd) Run(g *Globals) error {
	db, err := g.openReadOnly(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	return encodeYAML(g, struct {
		Header headerReport  `yaml:"header"`
		Head   trailerReport `yaml:"head"`
	}{
		Header: newHeaderReport(db),
		Head:   newTrailerReport(db.TrailerPos(), db.Trailer()),
	})
}

// GenerationsCmd lists the generation chain.
type GenerationsCmd struct {
	Store string `arg:"" help:"Path to the store" type:"existingfile"`
}

func (c *GenerationsCmd) Run(g *Globals) error {
	db, err := g.openReadOnly(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATION\tPOS\tSIZE\tTIME")
	for info, err := range db.Generations() {
		if err != nil {
			tw.Flush()
			return err
		}
		t := info.Trailer
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", t.Generation, info.Pos.Address, t.Size,
			t.CommitTime().UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

type entryReport struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	Size uint64 `yaml:"size"`
}

// DumpCmd dumps the chain and the head index tables.
type DumpCmd struct {
	Store   string   `arg:"" help:"Path to the store" type:"existingfile"`
	Indexes []string `name:"index" short:"i" default:"write" help:"Index slots whose head tables are listed"`
}

func (c *DumpCmd) Run(g *Globals) error {
	db, err := g.openReadOnly(c.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	var chain []trailerReport
	for info, err := range db.Generations() {
		if err != nil {
			return err
		}
		chain = append(chain, newTrailerReport(info.Pos, info.Trailer))
	}

	tables := make(map[string][]entryReport)
	for _, name := range c.Indexes {
		kind, err := pstore.ParseIndexKind(name)
		if err != nil {
			return err
		}
		t, err := index.Load(db, kind)
		if err != nil {
			return err
		}
		entries := []entryReport{}
		for n, e := range t.All() {
			entries = append(entries, entryReport{Name: n, Addr: e.Addr.Address.String(), Size: e.Size})
		}
		tables[kind.String()] = entries
	}

	return encodeYAML(g, struct {
		Header      headerReport             `yaml:"header"`
		Generations []trailerReport          `yaml:"generations"`
		Tables      map[string][]entryReport `yaml:"tables"`
	}{
		Header:      newHeaderReport(db),
		Generations: chain,
		Tables:      tables,
	})
}
