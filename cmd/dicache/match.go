package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/match"
)

var matchCmd = &cobra.Command{
	Use:   "match [flags] <name> <module-glob>...",
	Short: "Find the definition of a symbol across loaded modules",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMatch,
}

func init() {
	addSessionFlags(matchCmd)
	matchCmd.Flags().String("prefer", "", "module path whose definition wins")
}

type matchOut struct {
	Found   bool   `json:"found"`
	Module  string `json:"module,omitempty"`
	Section string `json:"section,omitempty"`
	Index   uint32 `json:"index"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	prefer, err := cmd.Flags().GetString("prefer")
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

	var preferred dbgi.Key
	for i, p := range s.paths {
		if p == prefer {
			preferred = s.keys[i]
		}
	}
	r, err := match.New(s.cache, match.Options{Lanes: cfg.Lanes, Logger: log}).
		Match(cmd.Context(), args[0], preferred)
	if err != nil {
		return err
	}
	out := matchOut{Found: r.Found}
	if r.Found {
		out.Module = s.moduleNames()[r.Key]
		out.Section = r.Section.String()
		out.Index = r.Index
	}
	return emit(cmd, out, func(w io.Writer) error {
		if !out.Found {
			_, err := fmt.Fprintf(w, "%s: not found\n", args[0])
			return err
		}
		_, err := fmt.Fprintf(w, "%s\t%s[%d]\t%s\n", args[0], out.Section, out.Index, out.Module)
		return err
	})
}
