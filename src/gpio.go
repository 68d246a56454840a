//go:build linux

package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Optional LIN transceiver enable line.
 *
 * Description: Cheap TTL-to-LIN boards (MCP2003 and friends) gate the
 *		transceiver with a chip select pin.  When configured,
 *		the line is claimed as an output, driven high for the
 *		life of the process and released on shutdown, which
 *		lets the transceiver sleep while the emulator is down.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

type gpio_enable_t struct {
	line *gpiocdev.Line
}

func gpio_enable_open(cfg *gpio_config_s) (*gpio_enable_t, error) {
	if cfg.Chip == "" {
		return nil, nil
	}

	var line, err = gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsOutput(1), gpiocdev.WithConsumer("inetboxd"))
	if err != nil {
		return nil, fmt.Errorf("transceiver enable %s:%d: %w", cfg.Chip, cfg.Line, err)
	}

	log.Info("transceiver enabled", "chip", cfg.Chip, "line", cfg.Line)
	return &gpio_enable_t{line: line}, nil
}

func (g *gpio_enable_t) gpio_enable_close() {
	if g == nil {
		return
	}
	g.line.SetValue(0)
	g.line.Close()
}
