package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"llamagate/internal/cliutil"
)

var (
	gatewayAddr  string
	outputFormat string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and operate models on a running gateway",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known models and their load state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Object string           `json:"object"`
			Data   []map[string]any `json:"data"`
		}
		if err := getJSON("/v1/models", &body); err != nil {
			return cliutil.NewCommandError("models list", err)
		}
		return formatOutput(body.Data)
	},
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway readiness and the active model",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]any
		if err := getJSON("/healthz?ready=1", &body); err != nil {
			return cliutil.NewCommandError("models status", err)
		}
		return formatOutput(body)
	},
}

var modelsUnloadCmd = &cobra.Command{
	Use:   "unload <model>",
	Short: "Unload a model, freeing the single slot if it holds it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]any
		if err := doRequest(http.MethodDelete, "/v1/models/"+args[0], &body); err != nil {
			return cliutil.NewCommandError("models unload", err)
		}
		return formatOutput(body)
	},
}

var modelsStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request cancellation of the in-flight generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body map[string]any
		if err := doRequest(http.MethodPost, "/v1/generation/stop", &body); err != nil {
			return cliutil.NewCommandError("models stop", err)
		}
		return formatOutput(body)
	},
}

func init() {
	modelsCmd.PersistentFlags().StringVar(&gatewayAddr, "address", "http://127.0.0.1:8080", "gateway base URL")
	modelsCmd.PersistentFlags().StringVar(&outputFormat, "output", "text", "output format: text or json")

	modelsCmd.AddCommand(modelsListCmd, modelsStatusCmd, modelsUnloadCmd, modelsStopCmd)
	rootCmd.AddCommand(modelsCmd)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(path string, out any) error {
	return doRequest(http.MethodGet, path, out)
}

func doRequest(method, path string, out any) error {
	req, err := http.NewRequest(method, gatewayAddr+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway at %s: %w", gatewayAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %s: %s", resp.Status, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatOutput(data any) error {
	f := cliutil.NewFormatter(cliutil.OutputFormat(outputFormat))
	return f.FormatTo(os.Stdout, data)
}
