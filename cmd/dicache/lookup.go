package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/dicache/rdi"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [flags] <module-glob>...",
	Short: "Load modules and report their keys and table sizes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLookup,
}

func init() { addSessionFlags(lookupCmd) }

type moduleInfo struct {
	Path     string         `json:"path"`
	Key      string         `json:"key"`
	Status   string         `json:"status"`
	Sections map[string]int `json:"sections,omitempty"`
}

var allSections = []rdi.Section{
	rdi.SectionProcedures,
	rdi.SectionGlobalVariables,
	rdi.SectionThreadVariables,
	rdi.SectionConstants,
	rdi.SectionUDTs,
	rdi.SectionTypes,
	rdi.SectionFilePathNodes,
}

func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, newLogger(cmd), nil, args)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.wait(cmd.Context(), cfg.Wait.Duration); err != nil {
		return err
	}

	acc := s.cache.OpenAccess()
	defer acc.Close()
	infos := make([]moduleInfo, len(s.keys))
	for i, k := range s.keys {
		info := moduleInfo{Path: s.paths[i], Key: k.String(), Status: s.cache.Status(k).String()}
		if t := s.cache.Lookup(acc, k, false, time.Time{}); !t.IsNil() {
			info.Sections = make(map[string]int, len(allSections))
			for _, sec := range allSections {
				info.Sections[sec.String()] = t.Count(sec)
			}
		}
		infos[i] = info
	}
	return emit(cmd, infos, func(w io.Writer) error {
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Key, info.Status, info.Path)
			for _, sec := range allSections {
				if n := info.Sections[sec.String()]; n > 0 {
					fmt.Fprintf(w, "\t%-18s %d\n", sec, n)
				}
			}
		}
		return nil
	})
}
