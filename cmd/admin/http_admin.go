package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func healthCmd(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "relay base url")
	_ = fs.Parse(args)
	get(strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/healthz", 5*time.Second)
}

// metricsCmd prints the relay's beam_* metrics.
func metricsCmd(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "relay or peer metrics base url")
	_ = fs.Parse(args)

	body := get(strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/metrics", 10*time.Second)
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "beam_") {
			fmt.Println(line)
		}
	}
}

func get(u string, timeout time.Duration) string {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		fmt.Fprintln(os.Stderr, resp.Status, string(b))
		os.Exit(1)
	}
	return string(b)
}
