// The geo package resolves client IPs to ISO country codes using a maxmind database,
// downloaded on first use and refreshed periodically.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang/v2"
)

// Locator returns the country code of IP addresses.
// All methods are safe for concurrent use, but only on Unix file systems because of os.Rename properties.
type Locator struct {
	mu   sync.RWMutex
	db   *maxminddb.Reader
	http *http.Client

	config Config
	log    *slog.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewLocator opens the database at [Config.Path], downloading it first if it doesn't exist,
// and starts refreshing it every [Config.RefreshInterval].
func NewLocator(c Config, logger *slog.Logger) (*Locator, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	locator := &Locator{
		http:   &http.Client{Timeout: c.DownloadTimeout},
		config: c,
		log:    logger,
		done:   make(chan struct{}),
	}

	_, err := os.Stat(c.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat geolocation database at %q: %w", c.Path, err)
	}

	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create geolocation directory: %w", err)
		}

		if err = locator.downloadDB(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to download geolocation database from %q: %w", c.DownloadEndpoint, err)
		}
	}

	locator.db, err = maxminddb.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geolocation database at %q: %w", c.Path, err)
	}

	locator.wg.Add(1)
	go locator.refreshLoop()
	return locator, nil
}

// Close stops the refreshes and closes the geolocation database.
func (l *Locator) Close() error {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}

// LookupCountry returns the country ISO code of the given IP address.
func (l *Locator) LookupCountry(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("failed to lookup country: %w", err)
	}
	addr = addr.Unmap()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var country string
	if err := l.db.Lookup(addr).DecodePath(&country, "country", "iso_code"); err != nil {
		return "", fmt.Errorf("failed to lookup country: %w", err)
	}
	return country, nil
}

// Country is like [Locator.LookupCountry] but returns the empty string when the country is unknown.
func (l *Locator) Country(ip string) string {
	country, err := l.LookupCountry(ip)
	if err != nil {
		return ""
	}
	return country
}

// Refresh re-downloads the geolocation database and swaps it atomically.
// It is safe to call concurrently with LookupCountry.
func (l *Locator) Refresh(ctx context.Context) error {
	if err := l.downloadDB(ctx); err != nil {
		return err
	}

	db, err := maxminddb.Open(l.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open refreshed geolocation database at %q: %w", l.config.Path, err)
	}

	l.mu.Lock()
	old := l.db
	l.db = db
	l.mu.Unlock()

	return old.Close()
}

func (l *Locator) refreshLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.config.DownloadTimeout)
			if err := l.Refresh(ctx); err != nil {
				l.log.Error("geo: failed to refresh database, keeping the old one", "error", err)
			} else {
				l.log.Info("geo: database refreshed", "path", l.config.Path)
			}
			cancel()
		}
	}
}

// downloadDB downloads the .mmdb file from the configured endpoint and atomically stores it at
// the configured path. The download is written to a temporary file first, then renamed into place,
// so the existing file (if any) is never left in a partial state.
func (l *Locator) downloadDB(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.DownloadEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, body)
	}

	cl := resp.ContentLength
	if cl > l.config.DownloadMaxSize {
		return fmt.Errorf("Content-Length %d exceeds max allowed size of %d bytes", cl, l.config.DownloadMaxSize)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.config.Path), "geo.*.mmdb.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, l.config.DownloadMaxSize))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if cl != -1 && n > cl {
		l.log.Warn("geo: bytes received exceed Content-Length", "content_length", cl, "received", n)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, l.config.Path); err != nil {
		return fmt.Errorf("failed to move mmdb into place: %w", err)
	}
	return nil
}
