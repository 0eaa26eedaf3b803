package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
)

var errEchoMismatch = errors.New("echo mismatch")

func newProbeCmd() *cobra.Command {
	var (
		addr    string
		payload string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send one datagram and verify it is echoed back",
		Long: `Probe sends a single UDP datagram to a running receiver in echo mode and
waits for the identical payload to come back. It exits non-zero on timeout
or mismatch.

Examples:
  udpaudio probe
  udpaudio probe --addr 192.168.10.1:12345 --payload 010203`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := hex.DecodeString(payload)
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			rtt, err := probe(cmd.Context(), addr, data, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d bytes echoed by %s in %s\n", len(data), addr, rtt)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:12345", "receiver address")
	cmd.Flags().StringVar(&payload, "payload", "010203", "hex-encoded payload")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "how long to wait for the echo")
	return cmd
}

// probe sends payload to addr and waits up to timeout for the same bytes to
// come back, returning the round-trip time.
func probe(ctx context.Context, addr string, payload []byte, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return 0, fmt.Errorf("probe: dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	if _, err := conn.Write(payload); err != nil {
		return 0, fmt.Errorf("probe: send: %w", err)
	}
	buf := make([]byte, len(payload)+1)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("probe: no echo from %s: %w", addr, err)
	}
	rtt := time.Since(start)
	if !bytes.Equal(buf[:n], payload) {
		return rtt, fmt.Errorf("probe: %w: sent %x, got %x", errEchoMismatch, payload, buf[:n])
	}
	return rtt, nil
}
