package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/acceptd/internal/config"
	"github.com/vango-dev/acceptd/internal/errors"
)

const defaultProbeRequest = "GET / HTTP/1.1\r\n\r\n"

func probeCmd() *cobra.Command {
	var (
		request string
		timeout time.Duration
		keep    bool
	)

	cmd := &cobra.Command{
		Use:   "probe [address]",
		Short: "Send one request to a server and print the response",
		Long: `Connect to a running acceptd, send one request, half-close the
connection and print everything the server sends back.

The address defaults to 127.0.0.1:8080.

Examples:
  acceptd probe
  acceptd probe 10.0.0.5:9000
  acceptd probe --request=''   # zero-byte client`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(config.DefaultPort))
			if len(args) == 1 {
				addr = args[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			resp, err := probe(ctx, addr, request, !keep)
			if err != nil {
				return errors.FromError(err, "E142").
					WithSuggestion("Check that the server is running at " + addr)
			}
			out := cmd.OutOrStdout()
			out.Write(resp)
			if len(resp) > 0 && resp[len(resp)-1] != '\n' {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d bytes from %s in %s\n",
				len(resp), addr, time.Since(start).Round(time.Microsecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&request, "request", "r", defaultProbeRequest, "Bytes to send")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Overall deadline")
	cmd.Flags().BoolVar(&keep, "no-half-close", false, "Keep the write side open after sending")

	return cmd
}

// probe sends request to addr and reads until the server closes.
func probe(ctx context.Context, addr, request string, halfClose bool) ([]byte, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if deadline, ok := ctx.Deadline(); ok {
		c.SetDeadline(deadline)
	}

	if request != "" {
		if _, err := io.WriteString(c, request); err != nil {
			return nil, fmt.Errorf("write request: %w", err)
		}
	}
	if tc, ok := c.(*net.TCPConn); ok && halfClose {
		if err := tc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("half-close: %w", err)
		}
	}

	resp, err := io.ReadAll(c)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
