package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"speecheval/internal/catalog"
	"speecheval/internal/quota"
)

// CredentialLister reads the credential pool.
type CredentialLister interface {
	ListCredentials(ctx context.Context, provider string) ([]quota.Credential, error)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCatalog verifies that the question catalogue parses.
func CheckCatalog(path string) Result {
	const name = "Question catalogue"
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d questions)", path, cat.QuestionCount())}
}

// CheckEndpoint verifies that an HTTP endpoint answers. Any response below
// 500 counts as reachable; authentication is checked on first use.
func CheckEndpoint(ctx context.Context, name, endpoint string) Result {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url %q", endpoint)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, endpoint, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckCredentials verifies that at least one active credential still has
// quota today for one of models.
func CheckCredentials(ctx context.Context, creds CredentialLister, provider string, models []string) Result {
	name := fmt.Sprintf("Credentials (%s)", provider)
	list, err := creds.ListCredentials(ctx, provider)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("list failed (%v)", err)}
	}
	today := time.Now().UTC().Format(quota.DateLayout)
	active, usable := 0, 0
	for _, cred := range list {
		if !cred.Active {
			continue
		}
		active++
		if len(quota.UsableModels(cred, models, today)) > 0 {
			usable++
		}
	}
	switch {
	case active == 0:
		return Result{Name: name, Detail: "no active credentials; add one with evalctl credentials add"}
	case usable == 0:
		return Result{Name: name, Detail: fmt.Sprintf("all %d active credentials are exhausted today", active)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d of %d active credentials usable", usable, active)}
	}
}

// CheckBus verifies that at least one NATS server accepts TCP connections.
func CheckBus(ctx context.Context, servers []string) Result {
	const name = "NATS"
	if len(servers) == 0 {
		return Result{Name: name, Detail: "no servers configured"}
	}
	var dialer net.Dialer
	var lastErr error
	for _, server := range servers {
		host := server
		if u, err := url.Parse(server); err == nil && u.Host != "" {
			host = u.Host
		}
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, "4222")
		}
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := dialer.DialContext(dialCtx, "tcp", host)
		cancel()
		if err == nil {
			_ = conn.Close()
			return Result{Name: name, Passed: true, Detail: host + " reachable"}
		}
		lastErr = err
	}
	return Result{Name: name, Detail: summarizeNetError(lastErr)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
