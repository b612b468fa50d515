package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/acme/autocert"

	"nocturna-sky-map/pkg/api"
	"nocturna-sky-map/pkg/database"
	"nocturna-sky-map/pkg/energy"
	"nocturna-sky-map/pkg/ingest"
	"nocturna-sky-map/pkg/observability"
	"nocturna-sky-map/pkg/regionstats"
)

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", "sqlite", "Type of the database driver: chai, sqlite, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for chai, sqlite drivers.)")
var dbConn = flag.String("db-conn", "", "Full database connection string; overrides the individual db-* flags")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (applicable for pgx driver)")
var dbName = flag.String("db-name", "NocturnaSkyMap", "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", 8765, "Port for running the server")
var ingestCSV = flag.String("ingest-csv", "", "Path to a Globe at Night style CSV to seed the store from on startup")
var ingestHotspotsCSV = flag.String("ingest-hotspots-csv", "", "Path to a satellite trend-grid CSV to seed the hotspot layer from on startup")
var version = flag.Bool("version", false, "Show the application version")

// CompileVersion is stamped by the build script via -ldflags.
var CompileVersion = "dev"

// applyEnvOverrides lets NOCTURNA_* environment variables stand in for flags
// that were not set on the command line. A .env file in the working
// directory is honoured first, which is how container deployments pass the
// database credentials without baking them into unit files.
func applyEnvOverrides() {
	_ = godotenv.Load()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	overlay := map[string]string{
		"domain":              "NOCTURNA_DOMAIN",
		"db-type":             "NOCTURNA_DB_TYPE",
		"db-path":             "NOCTURNA_DB_PATH",
		"db-conn":             "NOCTURNA_DB_CONN",
		"db-host":             "NOCTURNA_DB_HOST",
		"db-port":             "NOCTURNA_DB_PORT",
		"db-user":             "NOCTURNA_DB_USER",
		"db-pass":             "NOCTURNA_DB_PASS",
		"db-name":             "NOCTURNA_DB_NAME",
		"pg-ssl-mode":         "NOCTURNA_PG_SSL_MODE",
		"port":                "NOCTURNA_PORT",
		"ingest-csv":          "NOCTURNA_INGEST_CSV",
		"ingest-hotspots-csv": "NOCTURNA_INGEST_HOTSPOTS_CSV",
	}
	for name, env := range overlay {
		if set[name] {
			continue
		}
		if v := os.Getenv(env); v != "" {
			_ = flag.Set(name, v)
		}
	}
}

// withServerHeader wraps any http.Handler, adding a
// "Server: nocturna-sky-map/<CompileVersion>" header.
//
// A HEAD request to "/" gets an immediate 200 OK with no body, so load
// balancers can tell the service is alive.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nocturna-sky-map/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs:
//   - :80  — ACME HTTP-01 + 301 redirect to https://<domain>/…
//   - :443 — HTTPS with automatic Let's Encrypt certificates.
//
// If autocert cannot issue a cert for a host/SNI, the server still hands
// out a previously obtained fallback cert instead of failing the
// handshake. All errors are only logged.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			// Allow the bare domain and www.<domain>.
			if host == domain || host == "www."+domain {
				return nil
			}
			// An IP address? Don't block, just don't request a cert.
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	// :80, challenge + redirect.
	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	// Daily certificate renewal check.
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for range t.C {
			if _, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
				log.Printf("autocert renewal check: %v", err)
			}
		}
	}()

	// :443 HTTPS.
	tlsCfg := certMgr.TLSConfig()

	// Fallback certificate for IPs and odd SNIs.
	var defaultCert *tls.Certificate
	go func() {
		for defaultCert == nil {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				defaultCert = c
			}
			time.Sleep(time.Minute)
		}
	}()
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if defaultCert != nil {
			return defaultCert, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

func main() {
	flag.Parse()
	applyEnvOverrides()

	if *version {
		fmt.Printf("nocturna-sky-map version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("⚠  Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	dbCfg := database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBConn:    *dbConn,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	}
	db, err := database.NewDatabase(dbCfg)
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	if err = db.InitSchema(dbCfg); err != nil {
		log.Fatalf("DB schema: %v", err)
	}

	metrics := observability.NewMetrics()
	metrics.StoreReady.Set(1)

	if *ingestCSV != "" {
		f, err := os.Open(*ingestCSV)
		if err != nil {
			log.Fatalf("ingest: %v", err)
		}
		summary, err := ingest.Run(context.Background(), db, f)
		f.Close()
		if err != nil {
			log.Fatalf("ingest: %v", err)
		}
		metrics.RowsIngested.Add(float64(summary.Inserted))
		metrics.RowsSkipped.Add(float64(summary.Skipped))
		log.Printf("ingest: %d rows stored, %d skipped (%s)", summary.Inserted, summary.Skipped, *ingestCSV)
	}

	if *ingestHotspotsCSV != "" {
		f, err := os.Open(*ingestHotspotsCSV)
		if err != nil {
			log.Fatalf("hotspot ingest: %v", err)
		}
		summary, err := ingest.RunHotspots(context.Background(), db, f)
		f.Close()
		if err != nil {
			log.Fatalf("hotspot ingest: %v", err)
		}
		metrics.RowsIngested.Add(float64(summary.Inserted))
		metrics.RowsSkipped.Add(float64(summary.Skipped))
		log.Printf("hotspot ingest: %d cells stored, %d skipped (%s)", summary.Inserted, summary.Skipped, *ingestHotspotsCSV)
	}

	stats := regionstats.NewService(db)
	estimator := energy.NewEstimator(stats)

	mux := http.NewServeMux()
	api.NewHandler(db, stats, estimator, metrics, log.Printf).Register(mux)
	rootHandler := withServerHeader(mux)

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

	// Keep the main goroutine alive.
	select {}
}
