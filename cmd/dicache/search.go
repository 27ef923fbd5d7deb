package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/dicache/rdi"
	"github.com/IvanBrykalov/dicache/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [flags] <query> <module-glob>...",
	Short: "Fuzzy-search one section of every loaded module",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSearch,
}

func init() {
	addSessionFlags(searchCmd)
	searchCmd.Flags().String("section", "procedures", "section to search")
	searchCmd.Flags().Int("limit", 50, "maximum hits to print (0 = all)")
}

type hit struct {
	Name   string `json:"name"`
	Module string `json:"module"`
	Index  int    `json:"index"`
	Missed int    `json:"missed"`
}

func parseSection(name string) (rdi.Section, error) {
	for _, s := range allSections {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown section %q", name)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	secName, err := cmd.Flags().GetString("section")
	if err != nil {
		return err
	}
	section, err := parseSection(secName)
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	log := newLogger(cmd)
	s, err := openSession(cfg, log, nil, args[1:])
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.wait(cmd.Context(), cfg.Wait.Duration); err != nil {
		return err
	}

	res, err := search.New(s.cache, search.Options{Lanes: cfg.Lanes, Logger: log}).
		Search(cmd.Context(), section, args[0])
	if err != nil {
		return err
	}
	items := res.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	modules := s.moduleNames()
	hits := make([]hit, len(items))
	for i, it := range items {
		hits[i] = hit{Name: it.Name, Module: modules[it.Key], Index: it.Index, Missed: it.Missed}
	}
	return emit(cmd, hits, func(w io.Writer) error {
		for i, it := range items {
			fmt.Fprintf(w, "%s\t%s\n", highlight(it.Name, it.Ranges), hits[i].Module)
		}
		if res.Loading {
			fmt.Fprintln(w, "(some modules are still loading)")
		}
		return nil
	})
}

// highlight brackets matched ranges: "ma[in]".
func highlight(name string, ranges []search.Range) string {
	var b strings.Builder
	at := 0
	for _, r := range ranges {
		b.WriteString(name[at:r.Lo])
		b.WriteByte('[')
		b.WriteString(name[r.Lo:r.Hi])
		b.WriteByte(']')
		at = r.Hi
	}
	b.WriteString(name[at:])
	return b.String()
}
