package service

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const helpText = `commands:
  status              print the current run snapshot
  stop                cancel open orders and stop the run
  update_price <p>    replace the limit price
  update_qty <q>      replace the target quantity
  cancel_all          cancel resting orders, keep the run alive
  help                this text`

// RunInteractive reads operator commands from in until EOF or until the run
// finishes. Unknown input prints help instead of failing.
func (es *ExecutionService) RunInteractive(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, helpText)
	for scanner.Scan() {
		if es.Executor != nil {
			select {
			case <-es.Executor.Done():
				return
			default:
			}
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "status":
			snapshot, err := es.Status()
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			encoded, _ := json.MarshalIndent(snapshot, "", "  ")
			fmt.Fprintln(out, string(encoded))
		case "stop":
			if err := es.Stop(); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			return
		case "update_price":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: update_price <price>")
				continue
			}
			price, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Fprintln(out, "bad price:", fields[1])
				continue
			}
			if err := es.UpdatePrice(price); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "update_qty":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: update_qty <quantity>")
				continue
			}
			quantity, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Fprintln(out, "bad quantity:", fields[1])
				continue
			}
			if err := es.UpdateQty(quantity); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "cancel_all":
			if err := es.CancelAll(); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		case "help":
			fmt.Fprintln(out, helpText)
		default:
			fmt.Fprintf(out, "unknown command %q\n%s\n", fields[0], helpText)
		}
	}
}
