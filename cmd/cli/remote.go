package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type tokenData struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Admin actions against a running server",
	Long: `Available subcommands:
  login  - Exchange the admin password for a token
  logout - Revoke every issued token and forget the local one
  reload - Reopen the database on the server
  purge  - Drop cached search results (and chunks with --chunks)
  stats  - Show database, cache and event stream statistics`,
}

var adminPassword string

var adminLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in as admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminPassword == "" {
			return errors.New("password is required")
		}
		var resp tokenData
		if err := doJSON(cmd.Context(), http.MethodPost, "/admin/login", "", map[string]string{"password": adminPassword}, &resp); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := saveToken(tokenPath, resp); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ logged in, token valid until", resp.ExpiresAt)
		return nil
	},
}

var adminLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke admin tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		if token, err := readToken(tokenPath); err == nil && token != "" {
			if err := doJSON(cmd.Context(), http.MethodPost, "/admin/logout", token, nil, nil); err != nil {
				fmt.Fprintf(os.Stderr, "server logout failed: %v\n", err)
			}
		}
		if err := clearToken(tokenPath); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ logged out")
		return nil
	},
}

var adminReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the database on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/admin/reload")
	},
}

var purgeChunks bool

var adminPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge the search result cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/cache/purge"
		if purgeChunks {
			path += "?chunks=1"
		}
		return adminCall(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path)
	},
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return adminCall(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/admin/stats")
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Database change notifications",
}

var (
	eventsTCP    string
	eventsPretty bool
)

var eventsListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print database events as they happen",
	Long: `Connects to /ws/events on the API server, or to the line-oriented TCP
stream when --tcp is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if eventsTCP != "" {
			return runEventsTCP(cmd.OutOrStdout(), eventsTCP, eventsPretty)
		}
		endpoint, err := websocketURL(baseURL, "/ws/events")
		if err != nil {
			return err
		}
		return runWebSocket(cmd.OutOrStdout(), endpoint, eventsPretty)
	},
}

func init() {
	adminLoginCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
	adminPurgeCmd.Flags().BoolVar(&purgeChunks, "chunks", false, "also drop the server's chunk cache")
	adminCmd.AddCommand(adminLoginCmd, adminLogoutCmd, adminReloadCmd, adminPurgeCmd, adminStatsCmd)

	eventsListenCmd.Flags().StringVar(&eventsTCP, "tcp", "", "TCP event stream address (host:port)")
	eventsListenCmd.Flags().BoolVar(&eventsPretty, "pretty", false, "indent JSON events")
	eventsCmd.AddCommand(eventsListenCmd)
}

func adminCall(ctx context.Context, w io.Writer, method, path string) error {
	token, err := readToken(tokenPath)
	if err != nil || token == "" {
		return errors.New("token not found, please run: archimap admin login")
	}
	var out json.RawMessage
	if err := doJSON(ctx, method, path, token, nil, &out); err != nil {
		return err
	}
	printLine(w, out, true)
	return nil
}

func doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(baseURL, "/") + path

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed: %s", method, endpoint, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func runEventsTCP(w io.Writer, addr string, pretty bool) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	logger.Info("connected to event stream")
	reader := bufio.NewScanner(conn)
	for reader.Scan() {
		printLine(w, reader.Bytes(), pretty)
	}
	if err := reader.Err(); err != nil {
		return err
	}
	return errors.New("event stream closed by server")
}

func runWebSocket(w io.Writer, wsURL string, pretty bool) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	logger.Info("connected to event websocket")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		printLine(w, msg, pretty)
	}
}

func printLine(w io.Writer, line []byte, pretty bool) {
	if !pretty {
		fmt.Fprintln(w, string(line))
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, line, "", "  "); err != nil {
		fmt.Fprintln(w, string(line))
		return
	}
	fmt.Fprintln(w, buf.String())
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.archimap-token.json"
	}
	return filepath.Join(home, ".archimap", "token.json")
}

func saveToken(path string, td tokenData) error {
	if td.Token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var td tokenData
	if err := json.Unmarshal(data, &td); err != nil {
		return "", err
	}
	return strings.TrimSpace(td.Token), nil
}

func clearToken(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   path,
	}).String(), nil
}
