package objectstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kamiyn/sendgridparquetlog/internal/observability"
)

// Client is a minimal, hand-rolled SigV4 HTTP client for an S3-compatible
// object store. It implements only the operations the ingestion and
// compaction paths need: unconditional and conditional PUT, GET, HEAD,
// DELETE, and paginated delimiter listing.
type Client struct {
	httpClient *http.Client
	signer     *signer
	config     Config
	endpoint   *url.URL
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient builds a Client from cfg. It validates the bucket is set and
// the service URL parses, but performs no network I/O. metrics may be nil.
func NewClient(ctx context.Context, cfg Config, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	_ = ctx
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BucketName == "" {
		return nil, ErrBucketRequired
	}

	endpoint, err := url.Parse(cfg.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("objectstore: invalid service url: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		signer:     newSigner(cfg.Region, cfg.AccessKey, cfg.SecretKey),
		config:     cfg,
		endpoint:   endpoint,
		logger:     logger.With("component", "objectstore-client"),
		metrics:    metrics,
	}

	c.logger.Info("objectstore client created",
		"endpoint", cfg.ServiceURL,
		"bucket", cfg.BucketName,
		"region", cfg.Region,
	)

	return c, nil
}

// Put uploads data to key unconditionally, overwriting any existing object.
func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.put(ctx, key, data, nil)
	return err
}

// PutIfAbsent uploads data to key only if no object currently exists there
// (If-None-Match: *). Returns ErrPreconditionFailed if the object already
// exists.
func (c *Client) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	_, err := c.put(ctx, key, data, map[string]string{"If-None-Match": "*"})
	return err
}

// PutIfMatch uploads data to key only if the object's current ETag equals
// etag (compare-and-swap). Returns ErrPreconditionFailed on mismatch. The
// new ETag is returned on success.
func (c *Client) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	if etag == "" {
		return "", ErrPreconditionFailed
	}
	return c.put(ctx, key, data, map[string]string{"If-Match": etag})
}

func (c *Client) put(ctx context.Context, key string, data []byte, conditionHeaders map[string]string) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, key, "", conditionHeaders, data)
	if err != nil {
		c.recordOperationError(ctx)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusConflict {
		return "", ErrPreconditionFailed
	}
	if resp.StatusCode != http.StatusOK {
		c.recordOperationError(ctx)
		return "", fmt.Errorf("objectstore: put %s: unexpected status %s", key, resp.Status)
	}

	if c.metrics != nil {
		c.metrics.S3FilesWritten.Add(ctx, 1)
		c.metrics.S3FileSize.Record(ctx, int64(len(data)))
	}

	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// recordOperationError increments the object-store error counter, if
// metrics are configured.
func (c *Client) recordOperationError(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.S3OperationErrors.Add(ctx, 1)
	}
}

// Get downloads the object at key. A 404 maps to (nil, "", nil) — empty
// bytes, not an error — matching the contract that a missing object is
// not itself a failure.
func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, key, "", nil, nil)
	if err != nil {
		c.recordOperationError(ctx)
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		c.recordOperationError(ctx)
		return nil, "", fmt.Errorf("objectstore: get %s: unexpected status %s", key, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("objectstore: read body for %s: %w", key, err)
	}

	return body, strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// Head fetches only the ETag for key, without downloading the body. ok is
// false (with a nil error) when the object does not exist.
func (c *Client) Head(ctx context.Context, key string) (etag string, ok bool, err error) {
	resp, err := c.do(ctx, http.MethodHead, key, "", nil, nil)
	if err != nil {
		c.recordOperationError(ctx)
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return strings.Trim(resp.Header.Get("ETag"), `"`), true, nil
	case http.StatusNotFound:
		return "", false, nil
	default:
		c.recordOperationError(ctx)
		return "", false, fmt.Errorf("objectstore: head %s: unexpected status %s", key, resp.Status)
	}
}

// Delete removes the object at key. Deleting a nonexistent key is not an
// error (matches S3 semantics).
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, key, "", nil, nil)
	if err != nil {
		c.recordOperationError(ctx)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		c.recordOperationError(ctx)
		return fmt.Errorf("objectstore: delete %s: unexpected status %s", key, resp.Status)
	}
	return nil
}

// DeleteBatch removes up to 1000 keys in a single S3 DeleteObjects call.
// Callers must chunk larger sets themselves.
func (c *Client) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > 1000 {
		return fmt.Errorf("objectstore: delete batch of %d exceeds the 1000-key limit", len(keys))
	}

	req := deleteRequest{Quiet: true}
	for _, k := range keys {
		req.Objects = append(req.Objects, deleteObjectKey{Key: k})
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return fmt.Errorf("objectstore: encode delete batch: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	resp, err := c.do(ctx, http.MethodPost, "", "delete", nil, body)
	if err != nil {
		c.recordOperationError(ctx)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordOperationError(ctx)
		return fmt.Errorf("objectstore: delete batch: unexpected status %s", resp.Status)
	}
	return nil
}

// ListDirect lists the immediate children one level below prefix, using a
// "/" delimiter so nested keys are returned as common-prefix directory
// entries rather than being expanded. files holds object keys directly
// under prefix; dirs holds the "subdirectory" prefixes (each still ending
// in "/"). Used three times in sequence (year, then month, then day) by
// compaction's day-discovery walk rather than a single recursive listing,
// since the raw key space is a polynomial cross-product of date components.
func (c *Client) ListDirect(ctx context.Context, prefix string) (dirs []string, files []string, err error) {
	var continuationToken string

	for {
		query := url.Values{}
		query.Set("list-type", "2")
		query.Set("prefix", prefix)
		query.Set("delimiter", "/")
		if continuationToken != "" {
			query.Set("continuation-token", continuationToken)
		}

		resp, err := c.do(ctx, http.MethodGet, "", query.Encode(), nil, nil)
		if err != nil {
			return nil, nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("objectstore: list %s: unexpected status %s", prefix, resp.Status)
		}

		var result listBucketResult
		decodeErr := xml.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("objectstore: decode list response for %s: %w", prefix, decodeErr)
		}

		for _, cp := range result.CommonPrefixes {
			dirs = append(dirs, cp.Prefix)
		}
		for _, obj := range result.Contents {
			files = append(files, obj.Key)
		}

		if !result.IsTruncated {
			break
		}
		continuationToken = result.NextContinuationToken
	}

	return dirs, files, nil
}

// ListFiles recursively lists every object key under prefix (no
// delimiter), paginating until exhausted.
func (c *Client) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken string

	for {
		query := url.Values{}
		query.Set("list-type", "2")
		query.Set("prefix", prefix)
		if continuationToken != "" {
			query.Set("continuation-token", continuationToken)
		}

		resp, err := c.do(ctx, http.MethodGet, "", query.Encode(), nil, nil)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("objectstore: list %s: unexpected status %s", prefix, resp.Status)
		}

		var result listBucketResult
		decodeErr := xml.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("objectstore: decode list response for %s: %w", prefix, decodeErr)
		}

		for _, obj := range result.Contents {
			keys = append(keys, obj.Key)
		}

		if !result.IsTruncated {
			break
		}
		continuationToken = result.NextContinuationToken
	}

	return keys, nil
}

// HealthCheck verifies the object store is reachable by heading the
// bucket root.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := url.Values{}
	query.Set("list-type", "2")
	query.Set("max-keys", "1")

	resp, err := c.do(ctx, http.MethodGet, "", query.Encode(), nil, nil)
	if err != nil {
		return fmt.Errorf("objectstore: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("objectstore: health check: unexpected status %s", resp.Status)
	}
	return nil
}

// do signs and executes a single HTTP request against the bucket,
// returning the raw response for the caller to interpret. Callers own
// closing resp.Body.
func (c *Client) do(ctx context.Context, method, key, rawQuery string, extraHeaders map[string]string, body []byte) (*http.Response, error) {
	host, path := c.addressing(key)

	reqURL := *c.endpoint
	reqURL.Host = host
	reqURL.Path = path
	reqURL.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("objectstore: build request: %w", err)
	}

	headersToSign := make(map[string]string, len(extraHeaders))
	for k, v := range extraHeaders {
		headersToSign[k] = v
	}

	authorization, signedExtra := c.signer.signRequest(method, canonicalURIEncode(path), rawQuery, headersToSign, host, body, time.Now())

	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range signedExtra {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Host", host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// addressing computes the Host header and URL path for key, using
// path-style addressing (bucket as the first path segment) when the
// endpoint is a loopback address — local MinIO and other dev/test
// doubles rarely support virtual-host routing — and virtual-host-style
// addressing (bucket as a subdomain of the endpoint) otherwise, matching
// real S3 and most S3-compatible providers.
func (c *Client) addressing(key string) (host, path string) {
	trimmedKey := strings.TrimPrefix(key, "/")

	if isLoopbackHost(c.endpoint.Hostname()) {
		path = "/" + c.config.BucketName
		if trimmedKey != "" {
			path += "/" + trimmedKey
		}
		return c.endpoint.Host, path
	}

	host = c.config.BucketName + "." + c.endpoint.Host
	path = "/" + trimmedKey
	return host, path
}

// isLoopbackHost reports whether host (a URL hostname, with no port) is a
// loopback address or the "localhost" name.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

type listBucketResult struct {
	XMLName               xml.Name        `xml:"ListBucketResult"`
	IsTruncated           bool            `xml:"IsTruncated"`
	NextContinuationToken string          `xml:"NextContinuationToken"`
	CommonPrefixes        []commonPrefix  `xml:"CommonPrefixes"`
	Contents              []bucketContent `xml:"Contents"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type bucketContent struct {
	Key string `xml:"Key"`
}

type deleteRequest struct {
	XMLName xml.Name          `xml:"Delete"`
	Quiet   bool              `xml:"Quiet"`
	Objects []deleteObjectKey `xml:"Object"`
}

type deleteObjectKey struct {
	Key string `xml:"Key"`
}
