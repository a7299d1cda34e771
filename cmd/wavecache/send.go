package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendAddr   string
	sendPrefix string

	sendCmd = &cobra.Command{
		Use:       "send <skip-waiting|clear-cache>",
		Short:     "Post a control message to a running wavecache",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"skip-waiting", "clear-cache"},
		RunE:      runSend,
	}
)

func init() {
	sendCmd.Flags().StringVar(&sendAddr, "addr", "http://127.0.0.1:8080", "address of the running wavecache")
	sendCmd.Flags().StringVar(&sendPrefix, "prefix", "/__sw", "control endpoint prefix")
}

func runSend(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"type": args[0]})
	if err != nil {
		return err
	}
	u := strings.TrimSuffix(sendAddr, "/") + strings.TrimSuffix(sendPrefix, "/") + "/message"

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", args[0], err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send %s: %s: %s", args[0], resp.Status, strings.TrimSpace(string(out)))
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
	return nil
}
