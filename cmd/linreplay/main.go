/* Offline decoder for recorded LIN bus logs. */
package main

import (
	inetbox "github.com/doismellburning/inetboxd/src"
)

func main() {
	inetbox.LinReplayMain()
}
