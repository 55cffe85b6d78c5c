// ABOUTME: mDNS browsing for proxies on the local network
// ABOUTME: Used by resonatectl to find a gateway without a configured address
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// Service is a proxy found by Browse.
type Service struct {
	Name    string
	Host    string
	Port    int
	WSPath  string
	APIPath string
	Version string
}

// Addr returns host:port for client.New.
func (s Service) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Browse queries for proxies for up to timeout and returns them in the order
// they answered, without duplicates.
func Browse(ctx context.Context, timeout time.Duration, logger zerolog.Logger) ([]Service, error) {
	logger = logger.With().Str("component", "discovery").Logger()

	// QueryContext drops entries when the channel is full
	entries := make(chan *mdns.ServiceEntry, 32)
	done := make(chan struct{})

	var found []Service
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for entry := range entries {
			svc, ok := serviceFromEntry(entry)
			if !ok || seen[svc.Addr()] {
				continue
			}
			seen[svc.Addr()] = true
			logger.Debug().Str("name", svc.Name).Str("addr", svc.Addr()).Msg("discovered proxy")
			found = append(found, svc)
		}
	}()

	params := &mdns.QueryParam{
		Service: ServiceType,
		Domain:  "local",
		Timeout: timeout,
		Entries: entries,
		Logger:  log.New(debugWriter{logger}, "", 0),
	}
	err := mdns.QueryContext(ctx, params)
	close(entries)
	<-done

	if err != nil && ctx.Err() == nil {
		return found, fmt.Errorf("mdns query failed: %w", err)
	}
	return found, nil
}

// serviceFromEntry converts an answer into a Service. Entries without an
// address or port are skipped.
func serviceFromEntry(entry *mdns.ServiceEntry) (Service, bool) {
	if entry == nil || entry.Port == 0 {
		return Service{}, false
	}

	svc := Service{
		Name:    strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Port:    entry.Port,
		WSPath:  "/ws",
		APIPath: "/api",
	}
	switch {
	case entry.AddrV4 != nil:
		svc.Host = entry.AddrV4.String()
	case entry.AddrV6IPAddr != nil:
		svc.Host = entry.AddrV6IPAddr.String()
	default:
		return Service{}, false
	}

	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			svc.WSPath = value
		case "api":
			svc.APIPath = value
		case "version":
			svc.Version = value
		}
	}
	return svc, true
}

// debugWriter sends the mdns package's log lines to zerolog at debug level.
type debugWriter struct {
	logger zerolog.Logger
}

func (w debugWriter) Write(p []byte) (int, error) {
	w.logger.Debug().Str("source", "mdns").Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}
