// Package blobstore is Custard's client for the external blob-store
// collaborator that holds uploaded CSV bytes; the object store's own
// internals are out of scope. Custard never talks to the object store's
// native API directly; it asks for a short-lived signed GET URL and
// fetches through that, using a plain *http.Client with an explicit
// timeout.
package blobstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config names the endpoint and credentials used to mint and redeem
// signed URLs. The signing scheme (HMAC over method+key+expiry) matches
// what a caller-presented signed URL must satisfy server-side; the actual
// object store behind Endpoint is out of scope.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// Client fetches uploaded CSV bytes by file_id, satisfying
// csvpool.BlobFetcher.
type Client struct {
	cfg    Config
	http   *http.Client
	signTTL time.Duration
}

// New constructs a blob-store Client. An empty AccessKey/SecretKey is a
// startup-fatal misconfiguration: blob-store credentials must be present
// before the gateway accepts traffic. New itself does not validate that —
// the caller checks Config at startup (see internal/gateway).
func New(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		signTTL: 5 * time.Minute,
	}
}

// signedURL builds a time-limited GET URL for objectKey, HMAC-signed with
// the configured secret so the blob store (or a fronting proxy) can verify
// the request without Custard ever holding the object store's native
// credentials on the request path.
func (c *Client) signedURL(method, objectKey string) string {
	expiry := time.Now().Add(c.signTTL).Unix()
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	fmt.Fprintf(mac, "%s\n%s\n%d", method, objectKey, expiry)
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s/%s/%s?access_key=%s&expires=%d&signature=%s",
		c.cfg.Endpoint, c.cfg.Bucket, objectKey, c.cfg.AccessKey, expiry, sig)
}

// FetchCSV downloads the raw bytes of an uploaded CSV by its blob key,
// returning both the decoded bytes and the original content length
// (sourceBytes), which the CSV Session Pool uses against its per-file
// source-bytes cap.
func (c *Client) FetchCSV(ctx context.Context, blobKey string) (data []byte, sourceBytes int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.signedURL(http.MethodGet, blobKey), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build blob fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch blob %s: %w", blobKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch blob %s: unexpected status %d", blobKey, resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read blob %s: %w", blobKey, err)
	}
	return data, int64(len(data)), nil
}

// UploadCSV stores an uploaded CSV's raw bytes under a freshly generated
// blob key and returns it for the caller to persist on the FileMetadata
// record.
func (c *Client) UploadCSV(ctx context.Context, data []byte) (blobKey string, err error) {
	blobKey = uuid.New().String() + ".csv"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.signedURL(http.MethodPut, blobKey), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build blob upload request: %w", err)
	}
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload blob: unexpected status %d", resp.StatusCode)
	}
	return blobKey, nil
}
