// paxosctl is a small operator CLI for poking a running cluster
// through its client gateway: submit a value, read the chosen log.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clientAddr string

var rootCmd = &cobra.Command{
	Use:   "paxosctl",
	Short: "Operator CLI for the replicated value log",
	Long:  "paxosctl submits values to and reads chosen values from a running cluster via its client gateway.",
}

var sendCmd = &cobra.Command{
	Use:   "send [value]",
	Short: "Submit a value for consensus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := strings.NewReader(fmt.Sprintf(`{"value":%q}`, args[0]))
		resp, err := http.Post(clientAddr+"/send", "application/json", body)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		defer resp.Body.Close()
		return printJSON(resp.Body)
	},
}

var readLimit int

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the chosen values",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := clientAddr + "/read"
		if readLimit > 0 {
			url = fmt.Sprintf("%s?limit=%d", url, readLimit)
		}
		resp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		defer resp.Body.Close()
		return printJSON(resp.Body)
	},
}

var responsesCmd = &cobra.Command{
	Use:   "responses",
	Short: "Show the gateway's accumulated chosen-value notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(clientAddr + "/get-responses")
		if err != nil {
			return fmt.Errorf("get-responses failed: %w", err)
		}
		defer resp.Body.Close()
		return printJSON(resp.Body)
	},
}

func printJSON(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&clientAddr, "client-addr", "http://localhost:6000", "base URL of the client gateway")
	readCmd.Flags().IntVar(&readLimit, "limit", 0, "return only the most recent N values")
	rootCmd.AddCommand(sendCmd, readCmd, responsesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
