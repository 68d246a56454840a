//go:build linux

package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Find the LIN adapter when the config says
 *		"device: auto".
 *
 * Description: Walks the udev tty devices and keeps the ones backed
 *		by a USB serial converter.  Exactly one match is
 *		required - with two adapters plugged in there is no way
 *		to know which one is wired to the heater, so guessing
 *		would be worse than refusing.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

func serial_port_discover() (string, error) {
	var u udev.Udev
	var e = u.NewEnumerate()
	e.AddMatchSubsystem("tty")

	var devices, err = e.Devices()
	if err != nil {
		return "", fmt.Errorf("udev enumerate: %w", err)
	}

	var found []string
	for _, d := range devices {
		if d.Devnode() == "" {
			continue
		}
		if d.PropertyValue("ID_BUS") != "usb" {
			continue
		}
		log.Debug("USB serial adapter", "node", d.Devnode(),
			"model", d.PropertyValue("ID_MODEL"),
			"serial", d.PropertyValue("ID_SERIAL_SHORT"))
		found = append(found, d.Devnode())
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("device: auto, but no USB serial adapter present")
	case 1:
		log.Info("discovered LIN adapter", "device", found[0])
		return found[0], nil
	default:
		return "", fmt.Errorf("device: auto, but %d USB serial adapters present (%s); configure one explicitly",
			len(found), strings.Join(found, ", "))
	}
}
