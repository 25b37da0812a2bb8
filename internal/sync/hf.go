package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	corperrors "github.com/corpora-dev/corpora/internal/errors"
)

// DefaultHubEndpoint is the public Hugging Face Hub.
const DefaultHubEndpoint = "https://huggingface.co"

// defaultTransferTimeout bounds one upload or download request.
const defaultTransferTimeout = 10 * time.Minute

// HFClient talks to the Hugging Face Hub dataset API.
type HFClient struct {
	endpoint string
	token    string
	client   *http.Client
	retry    corperrors.RetryConfig
}

// NewHFClient creates a Hub client. An empty endpoint uses the public
// Hub; the token comes from HF_TOKEN and may be empty for public reads.
func NewHFClient(endpoint, token string) *HFClient {
	if endpoint == "" {
		endpoint = DefaultHubEndpoint
	}
	return &HFClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{},
		retry:    corperrors.DefaultRetryConfig(),
	}
}

// WhoAmI resolves the authenticated user's namespace.
func (c *HFClient) WhoAmI(ctx context.Context) (string, error) {
	if c.token == "" {
		return "", corperrors.New(corperrors.ErrCodeSyncAuth,
			"no Hub token: set HF_TOKEN or pass an explicit --repo", nil)
	}

	var body struct {
		Name string `json:"name"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.endpoint+"/api/whoami-v2", nil, &body)
	if err != nil {
		return "", err
	}
	if body.Name == "" {
		return "", corperrors.New(corperrors.ErrCodeSyncNetwork, "whoami response has no user name", nil)
	}
	return body.Name, nil
}

// DefaultRepo is the conventional dataset name for a collection.
func DefaultRepo(user, collection string) string {
	return user + "/corpora-" + collection
}

// CreateRepo creates the dataset repo if it does not exist. An existing
// repo is not an error.
func (c *HFClient) CreateRepo(ctx context.Context, repo string, private bool) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"type":         "dataset",
		"name":         name,
		"organization": owner,
		"private":      private,
	})
	if err != nil {
		return corperrors.Wrap(corperrors.ErrCodeInternal, err)
	}

	return corperrors.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint+"/api/repos/create", bytes.NewReader(payload))
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeSyncNetwork, err)
		}
		defer resp.Body.Close()

		// 409: the repo already exists, which is fine for publish.
		if resp.StatusCode == http.StatusConflict {
			return nil
		}
		return c.checkStatus(resp, "create repo "+repo)
	})
}

// Upload streams a local file to <repo>/<remotePath> on the main branch.
func (c *HFClient) Upload(ctx context.Context, repo, remotePath, localPath string) error {
	return corperrors.Retry(ctx, c.retry, func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeFileNotFound, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
		}

		tctx, cancel := context.WithTimeout(ctx, defaultTransferTimeout)
		defer cancel()

		url := fmt.Sprintf("%s/api/datasets/%s/upload/main/%s", c.endpoint, repo, remotePath)
		req, err := http.NewRequestWithContext(tctx, http.MethodPost, url, f)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
		req.ContentLength = info.Size()
		req.Header.Set("Content-Type", "application/octet-stream")
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeSyncNetwork, err)
		}
		defer resp.Body.Close()
		return c.checkStatus(resp, "upload "+remotePath)
	})
}

// Download fetches <repo>/<remotePath> into localPath via a temp file,
// so an interrupted transfer never leaves a partial file behind.
func (c *HFClient) Download(ctx context.Context, repo, remotePath, localPath string) error {
	return corperrors.Retry(ctx, c.retry, func() error {
		tctx, cancel := context.WithTimeout(ctx, defaultTransferTimeout)
		defer cancel()

		url := fmt.Sprintf("%s/datasets/%s/resolve/main/%s", c.endpoint, repo, remotePath)
		req, err := http.NewRequestWithContext(tctx, http.MethodGet, url, nil)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeSyncNetwork, err)
		}
		defer resp.Body.Close()
		if err := c.checkStatus(resp, "download "+remotePath); err != nil {
			return err
		}

		tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
		}
		defer os.Remove(tmp.Name())

		if _, err := io.Copy(tmp, resp.Body); err != nil {
			tmp.Close()
			return corperrors.Wrap(corperrors.ErrCodeSyncNetwork, err)
		}
		if err := tmp.Close(); err != nil {
			return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
		}
		if err := os.Rename(tmp.Name(), localPath); err != nil {
			return corperrors.Wrap(corperrors.ErrCodeFilePermission, err)
		}
		return nil
	})
}

func (c *HFClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doJSON performs a request with a JSON response body.
func (c *HFClient) doJSON(ctx context.Context, method, url string, payload []byte, out any) error {
	return corperrors.Retry(ctx, c.retry, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeInternal, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return corperrors.Wrap(corperrors.ErrCodeSyncNetwork, err)
		}
		defer resp.Body.Close()
		if err := c.checkStatus(resp, method+" "+url); err != nil {
			return err
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// checkStatus maps HTTP failures onto the sync error taxonomy: auth and
// not-found are permanent, 5xx and 429 are retryable.
func (c *HFClient) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s: hub returned %s", op, resp.Status)
	if len(detail) > 0 {
		msg += ": " + strings.TrimSpace(string(detail))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return corperrors.New(corperrors.ErrCodeSyncAuth, msg, nil)
	case resp.StatusCode == http.StatusNotFound:
		return corperrors.New(corperrors.ErrCodeNotFound, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return corperrors.New(corperrors.ErrCodeSyncNetwork, msg, nil)
	default:
		return corperrors.New(corperrors.ErrCodeSyncConflict, msg, nil)
	}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", corperrors.Newf(corperrors.ErrCodeInvalidInput,
			"repo must be <owner>/<name>, got %q", repo)
	}
	return parts[0], parts[1], nil
}
