// ABOUTME: mDNS advertisement of the proxy gateway
// ABOUTME: Lets clients on the local network find the REST API and event feed
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/Resonate-Protocol/resonate-proxy/internal/version"
	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

// ServiceType is the DNS-SD type the gateway is advertised under.
const ServiceType = "_resonate-proxy._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	WSPath      string
	APIPath     string
}

// Advertiser publishes the gateway over mDNS
type Advertiser struct {
	config Config
	logger zerolog.Logger
}

// NewAdvertiser creates an advertiser. Empty paths default to the gateway's routes.
func NewAdvertiser(config Config, logger zerolog.Logger) *Advertiser {
	if config.ServiceName == "" {
		config.ServiceName = version.Product
	}
	if config.WSPath == "" {
		config.WSPath = "/ws"
	}
	if config.APIPath == "" {
		config.APIPath = "/api"
	}
	return &Advertiser{
		config: config,
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// txt returns the TXT records clients use to find the endpoints.
func (a *Advertiser) txt() []string {
	return []string{
		"path=" + a.config.WSPath,
		"api=" + a.config.APIPath,
		"version=" + version.Version,
	}
}

func (a *Advertiser) service(ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(
		a.config.ServiceName,
		ServiceType,
		"",
		"",
		a.config.Port,
		ips,
		a.txt(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

// Run advertises until ctx is done.
func (a *Advertiser) Run(ctx context.Context) error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := a.service(ips)
	if err != nil {
		return err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	a.logger.Info().
		Str("name", a.config.ServiceName).
		Str("type", ServiceType).
		Int("port", a.config.Port).
		Msg("advertising gateway")

	<-ctx.Done()
	if err := server.Shutdown(); err != nil {
		a.logger.Warn().Err(err).Msg("mdns shutdown failed")
	}
	return nil
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
