// Maintenance tool for the on-disk cache: lists namespaces and purges them.
//
//	kissml [flags] list [glob]
//	kissml [flags] purge <identity> <policy>

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/nobletooth/kissml/pkg/config"
	"github.com/nobletooth/kissml/pkg/eviction"
	"github.com/nobletooth/kissml/pkg/manager"
	"github.com/nobletooth/kissml/pkg/utils"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

var errUsage = errors.New("usage: kissml [flags] list [glob] | purge <identity> <policy>")

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Kissml build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	m, err := manager.New()
	if err != nil {
		slog.Error("Failed to open the cache.", "error", err)
		os.Exit(1)
	}
	defer func() { _ = m.Close() }()
	if err := run(m, flag.Args(), os.Stdout); err != nil {
		slog.Error("Command failed.", "args", flag.Args(), "error", err)
		_ = m.Close()
		os.Exit(1)
	}
}

// run executes one command, writing its output to `out`.
func run(m *manager.Manager, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch command, rest := args[0], args[1:]; command {
	case "list":
		if len(rest) > 1 {
			return errUsage
		}
		pattern := ""
		if len(rest) == 1 {
			pattern = rest[0]
		}
		return list(m, pattern, out)
	case "purge":
		if len(rest) != 2 {
			return errUsage
		}
		policy, err := eviction.ParsePolicy(rest[1])
		if err != nil {
			return err
		}
		if err := m.Remove(rest[0], policy); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Purged %s (%s).\n", rest[0], policy)
		return err
	default:
		return fmt.Errorf("unknown command %q; %w", command, errUsage)
	}
}

func list(m *manager.Manager, pattern string, out io.Writer) error {
	namespaces, err := m.Namespaces(pattern)
	if err != nil {
		return err
	}
	if len(namespaces) == 0 {
		_, err := fmt.Fprintf(out, "No cache namespaces under %s.\n", m.Root())
		return err
	}

	var totalSize int64
	for _, namespace := range namespaces {
		instance, err := m.Get(namespace.Identity, namespace.Policy)
		if err != nil {
			return err
		}
		entries, err := instance.Len()
		if err != nil {
			return err
		}
		totalSize += namespace.Size
		if _, err := fmt.Fprintf(out, "%-40s %-24s %10s entries %10s\n", namespace.Identity, namespace.Policy,
			humanize.Comma(int64(entries)), humanize.Bytes(uint64(namespace.Size))); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "%d namespaces, %s on disk.\n", len(namespaces), humanize.Bytes(uint64(totalSize)))
	return err
}
