package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"

	_ "gdbexport/internal/gdb/all"
)

// main lists the tables of a workspace the way the exporters will see them:
// the detected backend, then every table with its parsed resolution, part
// and fields. A regular expression narrows the listing.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gdbprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		backend = fs.String("backend", "auto", "workspace backend: auto, gpkg, postgis or layerdir")
		pattern = fs.String("pattern", "", "regular expression with (resolution) and (part) groups; empty lists every table")
		fields  = fs.Bool("fields", true, "print the field list of each table")
		timeout = fs.Duration("timeout", 60*time.Second, "overall timeout")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: gdbprobe [flags] <workspace>")
		fs.PrintDefaults()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ws, kind, err := gdb.Open(ctx, fs.Arg(0), config.Backend{Kind: *backend, Options: config.Options{}})
	if err != nil {
		fmt.Fprintf(stderr, "gdbprobe: %v\n", err)
		return 1
	}
	defer ws.Close()
	fmt.Fprintf(stdout, "backend: %s (available: %s)\n", kind, strings.Join(gdb.ListBackends(), ", "))

	names, err := ws.ListTables(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "gdbprobe: list tables: %v\n", err)
		return 1
	}

	var refs []gdb.TableRef
	if *pattern != "" {
		m, err := gdb.NewRegexMatcher(*pattern)
		if err != nil {
			fmt.Fprintf(stderr, "gdbprobe: %v\n", err)
			return 2
		}
		refs = gdb.Filter(names, m)
	} else {
		for _, n := range names {
			ref, _ := gdb.ParseName(n)
			refs = append(refs, ref)
		}
		gdb.SortTables(refs)
	}
	fmt.Fprintf(stdout, "tables: %d of %d\n", len(refs), len(names))

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tRES\tPART\tFIELDS")
	for _, ref := range refs {
		res, part := "-", "-"
		if ref.HasPart {
			res, part = fmt.Sprint(ref.Resolution), ref.SourcePart()
		}
		cols := ""
		if *fields {
			fl, err := ws.ListFields(ctx, ref.Name)
			if err != nil {
				cols = "error: " + err.Error()
			} else {
				cols = strings.Join(fl, ",")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ref.Name, res, part, cols)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "gdbprobe: %v\n", err)
		return 1
	}
	return 0
}
