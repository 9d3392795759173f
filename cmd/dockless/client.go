package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func apiClient() *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://dockless" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is dockless daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPostJSON(path string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := apiClient().Post("http://dockless"+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is dockless daemon running?)", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, respBody)
	}
	if v != nil {
		return json.Unmarshal(respBody, v)
	}
	return nil
}

func apiDelete(path string, v any) error {
	req, err := http.NewRequest(http.MethodDelete, "http://dockless"+path, nil)
	if err != nil {
		return err
	}
	resp, err := apiClient().Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is dockless daemon running?)", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, respBody)
	}
	if v != nil {
		return json.Unmarshal(respBody, v)
	}
	return nil
}

type serviceRow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Register a new empty service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		payload := map[string]any{"name": args[0]}
		if id != "" {
			payload["id"] = id
		}
		var result struct {
			ID   string `json:"id"`
			Port int    `json:"port"`
		}
		if err := apiPostJSON("/api/services/init", payload, &result); err != nil {
			return err
		}
		fmt.Printf("%s: created, allocated port %d\n", result.ID, result.Port)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiAction(fmt.Sprintf("/api/services/%s/start", args[0]), args[0])
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiAction(fmt.Sprintf("/api/services/%s/stop", args[0]), args[0])
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <id>",
	Short: "Restart a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiAction(fmt.Sprintf("/api/services/%s/restart", args[0]), args[0])
	},
}

func apiAction(path, id string) error {
	var result struct {
		Message string `json:"message"`
	}
	if err := apiPostJSON(path, nil, &result); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", id, result.Message)
	return nil
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Tear down and remove a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Message string `json:"message"`
		}
		if err := apiDelete(fmt.Sprintf("/api/services/%s", args[0]), &result); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], result.Message)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show a service's persisted log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []struct {
			Timestamp string `json:"timestamp"`
			Level     string `json:"level"`
			Message   string `json:"message"`
		}
		if err := apiGet(fmt.Sprintf("/api/services/%s/logs", args[0]), &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s [%s] %s\n", e.Timestamp, e.Level, e.Message)
		}
		return nil
	},
}

var installCmd = &cobra.Command{
	Use:   "install <id> <version> <binary-path>",
	Short: "Upload and install a local binary as a service's artifact",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ver, binPath := args[0], args[1], args[2]

		data, err := os.ReadFile(binPath)
		if err != nil {
			return fmt.Errorf("reading binary: %w", err)
		}

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("version", ver); err != nil {
			return err
		}
		part, err := mw.CreateFormFile("file", filepath.Base(binPath))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}

		resp, err := apiClient().Post("http://dockless/api/services/"+id+"/artifact/upload", mw.FormDataContentType(), &buf)
		if err != nil {
			return fmt.Errorf("connecting to daemon: %w (is dockless daemon running?)", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 {
			return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
		}
		fmt.Printf("%s: artifact %s installed\n", id, ver)
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List every service's allocated port",
	RunE: func(cmd *cobra.Command, args []string) error {
		var allocations map[string]int
		if err := apiGet("/api/services/ports", &allocations); err != nil {
			return err
		}
		return printJSON(allocations)
	},
}

func init() {
	initCmd.Flags().String("id", "", "explicit service id (derived from name if omitted)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(portsCmd)
}
