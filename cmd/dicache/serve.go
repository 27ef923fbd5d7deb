package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/IvanBrykalov/dicache/dbgi"
	"github.com/IvanBrykalov/dicache/match"
	pmet "github.com/IvanBrykalov/dicache/metrics/prom"
	"github.com/IvanBrykalov/dicache/search"
)

var serveCmd = &cobra.Command{
	Use:   "serve [flags] <module-glob>...",
	Short: "Keep modules loaded and answer queries over HTTP",
	Long: "Serves /search?section=&q=, /match?name=&prefer=, /stats,\n" +
		"Prometheus metrics on /metrics and pprof on /debug/pprof/.",
	Args: cobra.MinimumNArgs(1),
	RunE: runServe,
}

func init() {
	addSessionFlags(serveCmd)
	serveCmd.Flags().String("http", ":8080", "listen address")
	serveCmd.Flags().Duration("sweep", 5*time.Second, "artifact sweep interval")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr, err := cmd.Flags().GetString("http")
	if err != nil {
		return err
	}
	sweepEvery, err := cmd.Flags().GetDuration("sweep")
	if err != nil {
		return err
	}

	log := newLogger(cmd)
	metrics := pmet.New(nil, "dicache", "cache", nil)
	s, err := openSession(cfg, log, metrics, args)
	if err != nil {
		return err
	}
	defer s.close()

	srv := &server{
		s:        s,
		searcher: search.New(s.cache, search.Options{Lanes: cfg.Lanes, Logger: log}),
		matcher:  match.New(s.cache, match.Options{Lanes: cfg.Lanes, Logger: log}),
	}
	// Memoized results go before the session closes the modules behind them.
	defer srv.matcher.Purge()
	defer srv.searcher.Purge()
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/search", srv.search)
	http.HandleFunc("/match", srv.match)
	http.HandleFunc("/stats", srv.stats)
	hs := &http.Server{Addr: addr, ReadHeaderTimeout: 5 * time.Second}

	ctx := cmd.Context()
	go func() {
		tk := time.NewTicker(sweepEvery)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				srv.searcher.Sweep()
				srv.matcher.Sweep()
			}
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutCtx)
	}()

	log.Info("serving", "addr", addr, "modules", len(s.keys))
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type server struct {
	s        *session
	searcher *search.Searcher
	matcher  *match.Matcher
}

func (h *server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	secName := q.Get("section")
	if secName == "" {
		secName = "procedures"
	}
	section, err := parseSection(secName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.searcher.Search(r.Context(), section, q.Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	modules := h.s.moduleNames()
	n := min(len(res.Items), 200)
	hits := make([]hit, 0, n)
	for _, it := range res.Items[:n] {
		hits = append(hits, hit{Name: it.Name, Module: modules[it.Key], Index: it.Index, Missed: it.Missed})
	}
	writeJSON(w, struct {
		Hits    []hit `json:"hits"`
		Total   int   `json:"total"`
		Loading bool  `json:"loading"`
	}{hits, len(res.Items), res.Loading})
}

func (h *server) match(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var preferred dbgi.Key
	for i, p := range h.s.paths {
		if p == q.Get("prefer") {
			preferred = h.s.keys[i]
		}
	}
	res, err := h.matcher.Match(r.Context(), q.Get("name"), preferred)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out := matchOut{Found: res.Found}
	if res.Found {
		out.Module = h.s.moduleNames()[res.Key]
		out.Section = res.Section.String()
		out.Index = res.Index
	}
	writeJSON(w, out)
}

func (h *server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		Cache  dbgi.Stats `json:"cache"`
		Search any        `json:"search"`
		Match  any        `json:"match"`
	}{h.s.cache.Stats(), h.searcher.Stats(), h.matcher.Stats()})
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
