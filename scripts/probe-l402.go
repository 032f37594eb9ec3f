//go:build ignore

// probe-l402.go checks a list of API domains for L402 payment gating: a 402
// response carrying a WWW-Authenticate: L402 (or legacy LSAT) challenge.
// Useful for finding live paid APIs worth listing in the directory.
//
// Run with: go run scripts/probe-l402.go
package main

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Domains to probe — known Lightning API vendors plus common API hosts.
var domains = []string{
	// Lightning-native API vendors
	"lightning.engineering", "lnpay.co", "lnbits.com", "getalby.com",
	"voltage.cloud", "zebedee.io", "strike.me", "opennode.com",
	"lnmarkets.com", "amboss.space", "mempool.space",

	// AI / inference APIs experimenting with per-call pricing
	"replicate.com", "huggingface.co", "openai.com", "anthropic.com",

	// General API infrastructure (baseline, expected no L402)
	"stripe.com", "twilio.com", "cloudflare.com", "github.com",
}

// Paths most likely to be payment-gated on a paid API.
var paths = []string{
	"/api/v1/",
	"/v1/",
	"/api/",
	"/",
}

type result struct {
	domain    string
	path      string
	status    int
	challenge string // WWW-Authenticate header, if any
	err       string
	latency   time.Duration
}

func probe(domain, path string, client *http.Client) result {
	url := "https://" + domain + path
	start := time.Now()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return result{domain: domain, path: path, err: err.Error()}
	}
	req.Header.Set("User-Agent", "satring-probe/0.1 (L402 discovery; +https://satring.com)")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		msg := err.Error()
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		return result{domain: domain, path: path, err: msg, latency: latency}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512)) //nolint:errcheck

	return result{
		domain:    domain,
		path:      path,
		status:    resp.StatusCode,
		challenge: resp.Header.Get("WWW-Authenticate"),
		latency:   latency,
	}
}

func isL402(challenge string) bool {
	c := strings.ToUpper(strings.TrimSpace(challenge))
	return strings.HasPrefix(c, "L402") || strings.HasPrefix(c, "LSAT")
}

func main() {
	httpClient := &http.Client{
		Timeout: 8 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // a redirect is not a paywall
		},
	}

	type job struct {
		domain, path string
	}

	jobs := make(chan job, len(domains)*len(paths))
	results := make(chan result, len(domains)*len(paths))

	// Worker pool — 20 concurrent probes
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- probe(j.domain, j.path, httpClient)
			}
		}()
	}

	total := 0
	for _, d := range domains {
		for _, p := range paths {
			jobs <- job{d, p}
			total++
		}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var gated []result
	var otherPaid []result
	checked := 0
	for r := range results {
		checked++
		fmt.Printf("\r  probing... %d/%d", checked, total)

		if r.status != http.StatusPaymentRequired {
			continue
		}
		if isL402(r.challenge) {
			gated = append(gated, r)
		} else {
			otherPaid = append(otherPaid, r)
		}
	}
	fmt.Printf("\r  done — %d endpoints probed\n\n", total)

	sort.Slice(gated, func(i, j int) bool {
		return gated[i].domain < gated[j].domain
	})

	fmt.Printf("══════════════════════════════════════════════════════\n")
	fmt.Printf("  L402 Paywall Probe Results\n")
	fmt.Printf("  Domains checked: %d  |  Paths per domain: %d\n", len(domains), len(paths))
	fmt.Printf("══════════════════════════════════════════════════════\n\n")

	if len(gated) == 0 && len(otherPaid) == 0 {
		fmt.Println("  No 402 responses found on any probed path.")
		return
	}

	if len(gated) > 0 {
		fmt.Printf("── L402 challenges (%d) ──\n", len(gated))
		for _, r := range gated {
			fmt.Printf("\n  ✦ https://%s%s  (%dms)\n", r.domain, r.path, r.latency.Milliseconds())
			fmt.Printf("    %s\n", r.challenge)
		}
		fmt.Println()
	}

	if len(otherPaid) > 0 {
		fmt.Printf("── 402 without an L402 challenge (%d) ──\n", len(otherPaid))
		for _, r := range otherPaid {
			fmt.Printf("  • https://%s%s\n", r.domain, r.path)
		}
		fmt.Println()
	}

	fmt.Println("══════════════════════════════════════════════════════")
}
