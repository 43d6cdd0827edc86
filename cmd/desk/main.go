package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"catalog-desk/internal/client"
	"catalog-desk/internal/config"
	"catalog-desk/internal/logger"
	"catalog-desk/internal/store"

	"go.uber.org/zap"
)

// desk is a terminal front door to the catalog store. It connects to the
// backend named by BACKEND_BASE_URL, loads the first page (filtered by the
// query given as arguments, if any) and prints a summary of each group.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	backend := client.New(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout, log)
	st := store.New(backend, log, store.Options{
		PageSize:       cfg.Catalog.PageSize,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Debounce:       cfg.Catalog.Debounce,
	})
	defer st.Close()

	if query := strings.Join(os.Args[1:], " "); query != "" {
		st.SetQuery(query)
	}

	if err := st.FetchPage(context.Background(), true); err != nil {
		log.Fatal("fetch failed", zap.String("backend", cfg.Backend.BaseURL), zap.Error(err))
	}

	snap := st.Snapshot()
	fmt.Printf("%d of %d groups\n", len(snap.Items), snap.Total)
	for _, g := range snap.Items {
		fmt.Printf("  %-36s  %-40s  %d variant(s)\n", g.ID, g.Title, len(g.Variants))
	}
}
