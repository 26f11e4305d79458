// geovisual-harness serves a Leaflet page backed by the reconciliation
// core in pkg/: it plays the role of the embedding host, owning the
// selection manager, persisting datasets and replaying them into the
// visual instance.
package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lproko/powerbi-leaflet-sub000/pkg/api"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/database"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/selection"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/viewstream"
	"github.com/lproko/powerbi-leaflet-sub000/pkg/visual"
	sample "github.com/lproko/powerbi-leaflet-sub000/public_html/geojson"
)

//go:embed public_html/*
var content embed.FS

// .env preload runs before the flag defaults below are computed, so a
// container deployment can stay flag-free.  Absence of the file is the
// normal case and not an error.
var _ = godotenv.Load()

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", envOr("GV_DB_TYPE", "sqlite"), "Type of the database driver: genji, sqlite, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", envOr("GV_DB_PATH", ""), "Path to the database file (defaults to the current folder, applicable for genji, sqlite drivers)")
var dbHost = flag.String("db-host", envOr("GV_DB_HOST", "127.0.0.1"), "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", envIntOr("GV_DB_PORT", 5432), "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", envOr("GV_DB_USER", "postgres"), "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", envOr("GV_DB_PASS", ""), "Database password (applicable for pgx driver)")
var dbName = flag.String("db-name", envOr("GV_DB_NAME", "GeoVisual"), "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", envOr("GV_PG_SSL_MODE", "prefer"), "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", envIntOr("GV_PORT", 8765), "Port for running the server")
var baseMapURL = flag.String("base-map-url", envOr("GV_BASE_MAP_URL", ""), "GeoJSON URL for the choropleth base map (empty: use the embedded sample)")
var bordersURL = flag.String("borders-url", envOr("GV_BORDERS_URL", ""), "Optional GeoJSON URL for the decorative borders overlay")
var cacheTTL = flag.Duration("cache-ttl", 30*time.Second, "TTL for cached API responses (0 disables the cache)")
var version = flag.Bool("version", false, "Show the application version")

var CompileVersion = "dev"

// hostSelection is the in-process stand-in for the platform's selection
// manager: it accepts what was clicked and logs the round trip, which
// is exactly what a single-client harness needs.
type hostSelection struct{}

func (hostSelection) Select(_ context.Context, ids []selection.Identifier) ([]selection.Identifier, error) {
	log.Printf("selection: host accepted %d identifier(s)", len(ids))
	return ids, nil
}

func (hostSelection) Clear(context.Context) error {
	log.Printf("selection: host cleared")
	return nil
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("geovisual-harness version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	db, err := database.NewDatabase(database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	})
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	defer db.Close()

	// The visual instance, wired to the in-process host services.
	vis := visual.New(visual.Host{
		Selection:        hostSelection{},
		Key:              func(id selection.Identifier) string { return fmt.Sprintf("%v", id) },
		IdentifierForRow: func(rowIndex int) selection.Identifier { return rowIndex },
		Memory:           selection.NewMemory(),
	})
	defer vis.Destroy()

	// Fan revision announcements out to SSE clients.
	bus := viewstream.NewBus(16)
	go func() {
		for range vis.Changed() {
			bus.Publish(vis.Snapshot().Revision)
		}
	}()

	shareURL := fmt.Sprintf("http://localhost:%d/", *port)
	if *domain != "" {
		shareURL = "https://" + *domain + "/"
	}

	base := *baseMapURL
	if base == "" {
		// Self-serve the embedded sample so the harness works with
		// zero configuration.
		base = fmt.Sprintf("http://127.0.0.1:%d/geojson/sample_admin0.geojson", *port)
	}

	handler := api.NewHandler(db, vis, bus, api.NewResponseCache(*cacheTTL), shareURL,
		visual.Settings{BaseMapURL: base, BordersURL: *bordersURL}, log.Printf)
	defer handler.Close()
	handler.Register(http.DefaultServeMux)

	staticFS, err := fs.Sub(content, "public_html")
	if err != nil {
		log.Fatalf("static fs: %v", err)
	}
	http.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	http.HandleFunc("/geojson/sample_admin0.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(sample.SampleAdmin0)
	})
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page, err := content.ReadFile("public_html/map.html")
		if err != nil {
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})

	rootHandler := withServerHeader(http.DefaultServeMux)

	if *domain != "" {
		go serveWithDomain(*domain, rootHandler)
	} else {
		addr := fmt.Sprintf(":%d", *port)
		go func() {
			log.Printf("HTTP server ➜ http://localhost%s", addr)
			if err := http.ListenAndServe(addr, rootHandler); err != nil {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	select {}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
