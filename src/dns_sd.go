package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the monitor port using DNS-SD.
 *
 * Description:
 *
 *     A heater installation usually lives in a vehicle with whatever
 *     address the campsite's DHCP felt like handing out.  Announcing
 *     the monitor service means a laptop on the same network can find
 *     it without anybody typing IP addresses at a dinette table.
 *
 *     Uses the pure-Go github.com/brutella/dnssd package, so no
 *     system daemon or C library is needed.
 */

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const DNS_SD_SERVICE = "_lin-monitor._tcp"

func dns_sd_announce(name string, port int) {
	if name == "" {
		name = dns_sd_default_service_name()
	}

	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNS_SD_SERVICE,
		Port: port,
	}

	var sv, svErr = dnssd.NewService(cfg)
	if svErr != nil {
		log.Error("DNS-SD: failed to create service", "err", svErr)
		return
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		log.Error("DNS-SD: failed to create responder", "err", rpErr)
		return
	}

	var _, addErr = rp.Add(sv)
	if addErr != nil {
		log.Error("DNS-SD: failed to add service", "err", addErr)
		return
	}

	log.Info("DNS-SD: announcing monitor", "port", port, "name", name)

	go func() {
		var respondErr = rp.Respond(context.Background())
		if respondErr != nil {
			log.Error("DNS-SD: responder error", "err", respondErr)
		}
	}()
}

/* Default instance name: "inetboxd on <hostname>", or just "inetboxd"
 * if the hostname cannot be obtained. */
func dns_sd_default_service_name() string {
	var hostname, hostnameErr = os.Hostname()
	if hostnameErr != nil {
		return "inetboxd"
	}

	// on some systems, an FQDN is returned; remove domain part
	hostname, _, _ = strings.Cut(hostname, ".")

	return "inetboxd on " + hostname
}
