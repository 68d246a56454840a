package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Live monitor: a plain TCP port streaming one text
 *		line per decoded bus event.
 *
 * Description: Strictly read-only - nothing a client sends comes back
 *		into the protocol stack.  Useful with nothing fancier
 *		than nc while poking at a heater installation.
 *
 *		Writes to slow clients are best effort; a client that
 *		cannot keep up with a 9600 baud bus gets dropped.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const MONITOR_WRITE_TIMEOUT = 100 * time.Millisecond

type monitor_t struct {
	listener net.Listener

	mu      sync.Mutex
	clients []net.Conn
}

func monitor_start(port int) (*monitor_t, error) {
	var listener, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("monitor listen: %w", err)
	}

	var mon = &monitor_t{listener: listener}
	go mon.accept_loop()

	log.Info("monitor listening", "port", port)
	return mon, nil
}

func (mon *monitor_t) accept_loop() {
	for {
		var conn, err = mon.listener.Accept()
		if err != nil {
			return
		}
		log.Debug("monitor client connected", "remote", conn.RemoteAddr())
		mon.mu.Lock()
		mon.clients = append(mon.clients, conn)
		mon.mu.Unlock()
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        monitor_line
 *
 * Purpose:     Fan one line out to every connected client.  Called
 *		from the protocol goroutine; must never block it for
 *		long, hence the short write deadline.
 *
 *-----------------------------------------------------------------*/

func (mon *monitor_t) monitor_line(line string) {
	if mon == nil {
		return
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()

	var keep = mon.clients[:0]
	for _, conn := range mon.clients {
		conn.SetWriteDeadline(time.Now().Add(MONITOR_WRITE_TIMEOUT))
		if _, err := fmt.Fprintln(conn, line); err != nil {
			log.Debug("monitor client dropped", "remote", conn.RemoteAddr(), "err", err)
			conn.Close()
			continue
		}
		keep = append(keep, conn)
	}
	mon.clients = keep
}

func monitor_format_frame(id byte, data []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frame id=%02x data=", id)
	for _, b := range data {
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

func monitor_format_status(stream string, key string, value string) string {
	if key == "" {
		return fmt.Sprintf("%s %s", stream, value)
	}
	return fmt.Sprintf("%s %s=%s", stream, key, value)
}

func (mon *monitor_t) monitor_close() {
	if mon == nil {
		return
	}
	mon.listener.Close()
	mon.mu.Lock()
	defer mon.mu.Unlock()
	for _, conn := range mon.clients {
		conn.Close()
	}
	mon.clients = nil
}
