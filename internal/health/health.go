// Package health checks that a deployed site answers its home page.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atomikpanda/djdeploy/internal/color"
)

// Status is the outcome of a check.
type Status string

const (
	Pass Status = "PASS"
	Fail Status = "FAIL"
)

// passMarker is what a healthy status line contains.
const passMarker = "200 OK"

// Report describes one check. Err is set when the request never produced a
// response; it is informational and never returned as a Go error.
type Report struct {
	URL        string
	Status     Status
	StatusLine string
	Err        error
}

// Passed reports whether the site answered 200 OK.
func (r Report) Passed() bool { return r.Status == Pass }

// Checker issues HEAD requests with a bounded client. The zero value uses
// DefaultTimeout and does not follow redirects either.
type Checker struct {
	Client *http.Client
}

// NewChecker returns a Checker whose client gives up after timeout and does
// not follow redirects, so a redirecting home page is reported as is.
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{Client: newClient(timeout)}
}

// DefaultTimeout bounds a Checker built without a client.
const DefaultTimeout = 10 * time.Second

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Check requests siteURL once and classifies the status line.
func (c *Checker) Check(ctx context.Context, siteURL string) Report {
	u := SiteURL(siteURL)
	rep := Report{URL: u, Status: Fail}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		rep.Err = err
		return rep
	}
	client := c.Client
	if client == nil {
		client = newClient(DefaultTimeout)
	}
	resp, err := client.Do(req)
	if err != nil {
		rep.Err = err
		return rep
	}
	resp.Body.Close()

	rep.StatusLine = resp.Proto + " " + resp.Status
	rep.Status = Classify(rep.StatusLine)
	return rep
}

// Classify maps a raw status line to Pass or Fail.
func Classify(statusLine string) Status {
	if strings.Contains(statusLine, passMarker) {
		return Pass
	}
	return Fail
}

// SiteURL adds an http scheme to bare host names.
func SiteURL(s string) string {
	if strings.Contains(s, "://") {
		return s
	}
	return "http://" + s
}

const happyBanner = `
     \o/
      |     %s
     / \    looks good from here
`

const sadBanner = `
     _o_
      |     %s
     / \    %s
`

// PrintBanner writes the human-readable pass/fail banner for rep.
func PrintBanner(w io.Writer, rep Report) {
	if rep.Passed() {
		fmt.Fprint(w, color.Green(fmt.Sprintf(happyBanner, rep.URL)))
		fmt.Fprintln(w, color.BoldGreen("PASS")+" "+rep.StatusLine)
		return
	}
	reason := rep.StatusLine
	if rep.Err != nil {
		reason = rep.Err.Error()
	}
	if reason == "" {
		reason = "no response"
	}
	fmt.Fprint(w, color.Red(fmt.Sprintf(sadBanner, rep.URL, reason)))
	fmt.Fprintln(w, color.BoldRed("FAIL")+" "+reason)
}
