package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type createTarget struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	IntervalS int    `json:"interval_s"`
	TimeoutS  int    `json:"timeout_s"`
	VerifyTLS bool   `json:"verify_tls"`
}

func main() {
	api := pflag.String("api", envOr("API_BASE", "http://localhost:8080"), "API base URL")
	key := pflag.String("key", os.Getenv("ADMIN_API_KEY"), "admin API key")
	name := pflag.String("name", "", "display name (defaults to the host)")
	raw := pflag.String("url", "", "site URL to monitor")
	interval := pflag.Int("interval", 60, "check interval in seconds (10..3600)")
	timeout := pflag.Int("timeout", 10, "probe timeout in seconds (1..30)")
	noVerify := pflag.Bool("no-verify-tls", false, "skip TLS certificate verification")
	pflag.Parse()

	if *raw == "" {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Enter a site URL to monitor (e.g., https://example.com): ")
		line, _ := reader.ReadString('\n')
		*raw = line
	}
	target := strings.TrimSpace(*raw)
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.ParseRequestURI(target)
	if err != nil || u.Hostname() == "" {
		fmt.Println("Invalid URL.")
		os.Exit(2)
	}
	if *name == "" {
		*name = u.Hostname()
	}

	body, _ := json.Marshal(createTarget{
		Name:      *name,
		URL:       target,
		IntervalS: *interval,
		TimeoutS:  *timeout,
		VerifyTLS: !*noVerify,
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*api, "/")+"/api/targets", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Bad API address:", err)
		os.Exit(2)
	}
	req.Header.Set("Content-Type", "application/json")
	if *key != "" {
		req.Header.Set("X-API-Key", *key)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusCreated {
		var out struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(msg, &out)
		fmt.Printf("Added %s (id %s). First check runs on the next scheduler tick.\n", target, out.ID)
		return
	}
	fmt.Printf("API returned status: %s %s\n", resp.Status, strings.TrimSpace(string(msg)))
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
