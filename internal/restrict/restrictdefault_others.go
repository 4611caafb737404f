//go:build !gokrazy

package restrict

var defaultRoDirs = []string{
	// As of Go 1.24, the net package Go resolver reads these DNS
	// configuration files:
	//
	// - /etc/resolv.conf
	// - /etc/hosts
	// - /etc/services
	// - /etc/nsswitch.conf
	//
	// Because /etc/resolv.conf might be re-created (by DHCP clients,
	// Tailscale, or similar), we need to provide the entire /etc
	// directory instead of individual files. Otherwise, the daemon
	// seems to work at first and then fails address resolution after a
	// while.
	"/etc",
}
