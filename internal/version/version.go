// ABOUTME: Version and product identification
// ABOUTME: Reported by the health endpoint and sent as the upstream client name
package version

const (
	Version      = "0.3.0"
	Product      = "resonate-proxy"
	Manufacturer = "Resonate"
)
