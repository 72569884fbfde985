package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SessionResp represents the response returned by the server after sign-in
type SessionResp struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// PostReq represents the JSON payload for creating a photo post
type PostReq struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Author      string    `json:"author"`
	PhotoLink   string    `json:"photoLink"`
	Likes       []string  `json:"likes"`
	HashTags    []string  `json:"hashTags"`
}

func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64
	var certFile, keyFile string
	var readRatio int

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.StringVar(&csvFile, "csv", "latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.StringVar(&certFile, "cert", "", "client certificate for TLS (optional)")
	flag.StringVar(&keyFile, "key", "", "client key for TLS (optional)")
	flag.IntVar(&readRatio, "reads", 4, "list requests per created post")
	flag.Parse()

	transport := &http.Transport{}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load cert/key: %v", err))
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	// --- Sign in one user per goroutine ---
	fmt.Printf("Signing in %d users...\n", concurrency)
	sessions := make([]SessionResp, concurrency)
	for i := 0; i < concurrency; i++ {
		payload := map[string]string{"username": fmt.Sprintf("load-user-%d", i)}
		b, _ := json.Marshal(payload)

		resp, err := client.Post(server+"/session", "application/json", bytes.NewReader(b))
		if err != nil {
			panic(fmt.Sprintf("failed to sign in: %v", err))
		}

		if err := json.NewDecoder(resp.Body).Decode(&sessions[i]); err != nil {
			resp.Body.Close()
			panic(fmt.Sprintf("failed to decode session response: %v", err))
		}
		resp.Body.Close()
	}
	fmt.Println("Users signed in.")

	// --- Prepare concurrency test ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	// Atomic counters for thread-safe tracking
	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency) // each goroutine records latencies

	// --- Start concurrent goroutines for load test ---
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			session := sessions[idx]
			var localLatencies []float64
			var n int

			// Alternate one post creation with readRatio page reads until the test duration ends
			for time.Now().Before(stopTime) {
				var req *http.Request
				if n%(readRatio+1) == 0 {
					body := PostReq{
						ID:          fmt.Sprintf("load-%d-%d", idx, time.Now().UnixNano()),
						Description: "load test post",
						CreatedAt:   time.Now().UTC(),
						Author:      session.Username,
						PhotoLink:   "http://photoLab.com/load.jpg",
						Likes:       []string{},
						HashTags:    []string{"load"},
					}
					b, _ := json.Marshal(body)
					req, _ = http.NewRequestWithContext(context.Background(), http.MethodPost, server+"/posts", bytes.NewReader(b))
					req.Header.Set("Content-Type", "application/json")
				} else {
					url := fmt.Sprintf("%s/posts?skip=%d&top=10&tags=load", server, (n*10)%100)
					req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
				}
				req.Header.Set("Authorization", "Bearer "+session.Token)
				n++

				start := time.Now()
				resp, err := client.Do(req)
				lat := time.Since(start).Seconds() * 1000 // latency in ms
				localLatencies = append(localLatencies, lat)
				atomic.AddInt64(&requests, 1)

				if err != nil {
					fmt.Printf("Request error: %v\n", err)
					continue
				}

				// Count success/failure by status code
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					atomic.AddInt64(&successes, 1)
				} else if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					atomic.AddInt64(&errors4xx, 1)
				} else if resp.StatusCode >= 500 {
					atomic.AddInt64(&errors5xx, 1)
				}

				if resp.StatusCode >= 400 {
					bodyBytes, _ := io.ReadAll(resp.Body)
					fmt.Printf("Status %d: %s\n", resp.StatusCode, string(bodyBytes))
				} else {
					io.Copy(io.Discard, resp.Body)
				}
				resp.Body.Close()
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}
	sort.Float64s(allLatencies)

	// --- Compute statistics ---
	trimmedMeanVal := trimmedMean(allLatencies, trimPercent)
	p50 := percentile(allLatencies, 50)
	p90 := percentile(allLatencies, 90)
	p99 := percentile(allLatencies, 99)

	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n", trimmedMeanVal, p50, p90, p99)

	// --- Save latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, d := range allLatencies {
		w.Write([]string{fmt.Sprintf("%.3f", d)})
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)
}

// trimmedMean calculates mean latency after trimming top/bottom trimPercent values
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	trimmed := data[trim : len(data)-trim]
	if len(trimmed) == 0 {
		return data[len(data)/2]
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile calculates the p-th percentile from sorted data
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
