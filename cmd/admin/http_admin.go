package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/sim/city"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8000", "server base url")
	_ = fs.Parse(args)

	cl := &http.Client{Timeout: 5 * time.Second}
	exitOn(call(cl, http.MethodGet, endpoint(*baseURL, "/api/v1/state"), nil))
}

func weatherCmd(args []string) {
	fs := flag.NewFlagSet("weather", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8000", "server base url")
	set := fs.String("set", "", "weather to force (Clear, Rain, Cloudy, Storm)")
	_ = fs.Parse(args)

	w, err := city.ParseWeather(*set)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	exitOn(call(cl, http.MethodPost, endpoint(*baseURL, "/admin/v1/weather"), map[string]any{"weather": w}))
}

func hourCmd(args []string) {
	fs := flag.NewFlagSet("hour", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8000", "server base url")
	set := fs.String("set", "", "simulated hour in [0,24)")
	_ = fs.Parse(args)

	h, err := strconv.ParseFloat(strings.TrimSpace(*set), 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -set:", err)
		os.Exit(2)
	}
	if err := (city.Clock{Hour: h}).Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	exitOn(call(cl, http.MethodPost, endpoint(*baseURL, "/admin/v1/hour"), map[string]any{"hour": h}))
}

func endpoint(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + path
}

// call performs one request and returns the response body. Non-2xx responses
// return the body together with an error.
func call(cl *http.Client, method, url string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return b, nil
}

func exitOn(b []byte, err error) {
	if len(b) > 0 {
		fmt.Println(strings.TrimSpace(string(b)))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
