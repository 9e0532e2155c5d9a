// Command stockalert refreshes watchlist quotes on a schedule and sends
// price and earnings alerts.
package main

import (
	_ "time/tzdata"

	"stock-alert/internal/cli"
	"stock-alert/internal/logging"
)

func main() {
	cli.Execute(logging.NewLogger())
}
