/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dantesync/dantesyncd/diag"
)

var (
	queryTargetFlag  string
	queryTimeoutFlag time.Duration
	queryRawFlag     bool
)

func init() {
	RootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryTargetFlag, "target", "t", fmt.Sprintf("127.0.0.1:%d", diag.Port), "host:port of the diagnostic UDP endpoint")
	queryCmd.Flags().DurationVar(&queryTimeoutFlag, "timeout", 2*time.Second, "time to wait for a reply")
	queryCmd.Flags().BoolVar(&queryRawFlag, "raw", false, "dump the full decoded response instead of a table")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send one diagnostic request and print the response",
	RunE: func(_ *cobra.Command, _ []string) error {
		resp, rtt, err := sendQuery(queryTargetFlag, queryTimeoutFlag)
		if err != nil {
			return err
		}
		if queryRawFlag {
			spew.Dump(resp)
			return nil
		}
		printResponse(resp, rtt)
		return nil
	},
}

// sendQuery sends a single diagnostic request to target and returns the
// decoded response and measured round-trip time.
func sendQuery(target string, timeout time.Duration) (diag.Response, time.Duration, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return diag.Response{}, 0, fmt.Errorf("dialing %s: %w", target, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return diag.Response{}, 0, err
	}

	req := diag.Request{ID: uint32(time.Now().UnixNano())}
	sent := time.Now()
	if _, err := conn.Write(req.Bytes()); err != nil {
		return diag.Response{}, 0, fmt.Errorf("sending request: %w", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return diag.Response{}, 0, fmt.Errorf("reading response: %w", err)
	}
	rtt := time.Since(sent)

	resp, err := diag.ParseResponse(buf[:n])
	if err != nil {
		return diag.Response{}, 0, fmt.Errorf("decoding response: %w", err)
	}
	if resp.ID != req.ID {
		return diag.Response{}, 0, fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	return resp, rtt, nil
}

func modeString(m diag.Mode) string {
	switch m {
	case diag.ModeInit:
		return color.YellowString("INIT")
	case diag.ModeSettling:
		return color.YellowString("SETTLING")
	case diag.ModeLocked:
		return color.GreenString("LOCKED")
	default:
		return color.RedString("UNKNOWN")
	}
}

func printResponse(resp diag.Response, rtt time.Duration) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"mode", modeString(resp.Mode)})
	table.Append([]string{"locked", fmt.Sprintf("%v", resp.Locked)})
	table.Append([]string{"offset", fmt.Sprintf("%dns", resp.OffsetNS)})
	table.Append([]string{"drift", fmt.Sprintf("%.3fppm", float64(resp.DriftPPM1000)/1000)})
	table.Append([]string{"applied", fmt.Sprintf("%.3fppm", float64(resp.AppliedPPM1000)/1000)})
	table.Append([]string{"gm uuid", fmt.Sprintf("%x", resp.GMUUID)})
	table.Append([]string{"wallclock", time.Unix(0, int64(resp.WallclockNS)).Format(time.RFC3339Nano)})
	table.Append([]string{"monotonic", fmt.Sprintf("%d ticks @ %dHz", resp.MonotonicTicks, resp.MonotonicHertz)})
	table.Append([]string{"rtt", rtt.String()})
	table.Render()
}
