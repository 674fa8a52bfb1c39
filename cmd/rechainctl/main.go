package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var restAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rechainctl",
		Short: "Sequencer CLI tool",
	}

	rootCmd.PersistentFlags().StringVar(&restAddr, "rest-addr", "http://localhost:1317", "REST API base address")

	rootCmd.AddCommand(
		statusCmd(),
		heightCmd(),
		proposalCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get node status",
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(httpGet("/status"))
		},
	}
}

func heightCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "height",
		Short: "Height operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start [height]",
		Short: "Start a new active height",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				log.Fatalf("invalid height: %v", err)
			}
			printJSON(httpPost(fmt.Sprintf("/heights/%d/start", height), nil))
		},
	})
	return cmd
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposal",
		Short: "Proposal operations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "propose [height]",
			Short: "Propose a block at height",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				height, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					log.Fatalf("invalid height: %v", err)
				}
				body, _ := json.Marshal(map[string]interface{}{"height": height})
				printJSON(httpPost("/proposals/propose", body))
			},
		},
		&cobra.Command{
			Use:   "validate [height]",
			Short: "Validate a proposal at height",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				height, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					log.Fatalf("invalid height: %v", err)
				}
				body, _ := json.Marshal(map[string]interface{}{"height": height})
				printJSON(httpPost("/proposals/validate", body))
			},
		},
		&cobra.Command{
			Use:   "finish [id]",
			Short: "Finish a proposal's content stream",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				body, _ := json.Marshal(map[string]interface{}{"finish": true})
				printJSON(httpPost(fmt.Sprintf("/proposals/%s/content", args[0]), body))
			},
		},
		&cobra.Command{
			Use:   "content [id]",
			Short: "Drain a proposal's streamed content",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				printJSON(httpGet(fmt.Sprintf("/proposals/%s/content", args[0])))
			},
		},
		&cobra.Command{
			Use:   "decide [id]",
			Short: "Report a proposal's decision reached",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				printJSON(httpPost(fmt.Sprintf("/proposals/%s/decision", args[0]), nil))
			},
		},
	)

	return cmd
}

func httpGet(path string) []byte {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(restAddr + path)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	return data
}

func httpPost(path string, body []byte) []byte {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(restAddr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	return data
}

func printJSON(raw []byte) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal JSON: %v", err)
	}
	fmt.Println(string(data))
}
