package main

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fortio.org/safecast"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/dicache/notify"
	"github.com/IvanBrykalov/dicache/rdi"
)

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <source>",
	Short: "Convert an ELF symbol table to the native debug-info format",
	Long: "Builds a native table from the ELF symbol table of <source>, writes it\n" +
		"zstd compressed to --out and, when --signal-pid is given, signals the\n" +
		"waiting cache over its completion channel.",
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("out", "", "output path (default: source with .rdi extension)")
	convertCmd.Flags().Int("threads", 1, "thread budget granted by the scheduler")
	convertCmd.Flags().Uint32("signal-pid", 0, "pid of the cache waiting for this conversion")
	convertCmd.Flags().Uint32("signal-code", 0, "tag echoed back to the waiting cache")
	convertCmd.Flags().String("signal-dir", "", "directory holding the completion channel")
}

func runConvert(cmd *cobra.Command, args []string) error {
	src := args[0]
	fl := cmd.Flags()
	out, err := fl.GetString("out")
	if err != nil {
		return err
	}
	if out == "" {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + ".rdi"
	}
	threads, err := fl.GetInt("threads")
	if err != nil {
		return err
	}
	pid, err := fl.GetUint32("signal-pid")
	if err != nil {
		return err
	}
	code, err := fl.GetUint32("signal-code")
	if err != nil {
		return err
	}
	dir, err := fl.GetString("signal-dir")
	if err != nil {
		return err
	}
	log := newLogger(cmd).With("component", "convert")

	convErr := convertELF(src, out)
	if convErr != nil {
		log.Error("conversion failed", "source", src, "err", convErr)
	} else {
		log.Debug("conversion done", "source", src, "output", out, "threads", threads)
	}

	// The waiting cache is signaled on failure too; it then parses whatever
	// is at out and settles on the nil table.
	if pid != 0 {
		if err := notifyParent(dir, pid, code); err != nil {
			return errors.Join(convErr, err)
		}
	}
	return convErr
}

func notifyParent(dir string, pid, code uint32) error {
	ipid, err := safecast.Conv[int](pid)
	if err != nil {
		return err
	}
	ch, err := notify.Open(dir, ipid)
	if err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	defer ch.Close()
	return ch.Send(notify.NewToken(pid, code))
}

// convertELF writes the symbols of src as a native table at out.
func convertELF(src, out string) error {
	f, err := elf.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("read symbols: %w", err)
	}
	dyn, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("read dynamic symbols: %w", err)
	}
	syms = append(syms, dyn...)
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Value < syms[j].Value })

	b := rdi.NewBuilder()
	seen := make(map[string]bool, len(syms))
	for _, s := range syms {
		if s.Name == "" || seen[s.Name] {
			continue
		}
		section, ok := sectionOf(f, s)
		if !ok {
			continue
		}
		seen[s.Name] = true
		b.Add(section, s.Name)
	}
	addSourcePaths(b, f)

	tmp, err := os.CreateTemp(filepath.Dir(out), filepath.Base(out)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := b.Encode(tmp, true); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", out, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), out)
}

// sectionOf classifies a symbol. Objects in read-only data are constants.
func sectionOf(f *elf.File, s elf.Symbol) (rdi.Section, bool) {
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC:
		return rdi.SectionProcedures, true
	case elf.STT_OBJECT:
		if i := int(s.Section); i > 0 && i < len(f.Sections) && strings.HasPrefix(f.Sections[i].Name, ".rodata") {
			return rdi.SectionConstants, true
		}
		return rdi.SectionGlobalVariables, true
	case elf.STT_TLS:
		return rdi.SectionThreadVariables, true
	}
	return 0, false
}

// addSourcePaths records STT_FILE symbols as a file path tree.
func addSourcePaths(b *rdi.Builder, f *elf.File) {
	syms, err := f.Symbols()
	if err != nil {
		return
	}
	nodes := make(map[string]uint32) // dir path -> node index + 1
	var node func(dir string) uint32
	node = func(dir string) uint32 {
		if dir == "." || dir == "/" || dir == "" {
			return 0
		}
		if n, ok := nodes[dir]; ok {
			return n
		}
		parent := node(filepath.Dir(dir))
		n := b.AddPath(parent, filepath.Base(dir)) + 1
		nodes[dir] = n
		return n
	}
	seen := make(map[string]bool)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FILE || s.Name == "" || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		p := filepath.Clean(s.Name)
		b.AddPath(node(filepath.Dir(p)), filepath.Base(p))
	}
}
