// Package remote is the HTTP client side of internal/httpapi. Client
// implements pdm.Server so the engine cannot tell a remote vault from a
// local one.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"cadvault/internal/httpapi"
	"cadvault/internal/pdm"
)

// DefaultTimeout applies when the configured timeout is not positive.
const DefaultTimeout = 30 * time.Second

// Client talks to a cvserver.
type Client struct {
	c        *req.Client
	identity pdm.Requestor
	logger   pdm.Logger
}

var _ pdm.Server = (*Client)(nil)

// New creates a Client for the server at baseURL. identity is sent with
// calls whose signature carries no holder. Transport failures are not
// retried here: the engine retries on its next poll.
func New(baseURL string, timeout time.Duration, identity pdm.Requestor, logger pdm.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = pdm.NewNopLogger()
	}
	c := req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetUserAgent("cadvault-cv").
		SetCommonErrorResult(&httpapi.APIError{})
	return &Client{c: c, identity: identity, logger: logger}, nil
}

func (c *Client) as(holder pdm.LockHolder) *req.Request {
	return c.c.R().
		SetHeader(httpapi.HeaderUser, holder.UserID).
		SetHeader(httpapi.HeaderDevice, holder.DeviceID)
}

func (c *Client) asRequestor(by pdm.Requestor) *req.Request {
	return c.as(pdm.LockHolder{UserID: by.UserID, DeviceID: by.DeviceID}).
		SetHeader(httpapi.HeaderRole, string(by.Role))
}

func (c *Client) reader() *req.Request {
	return c.asRequestor(c.identity)
}

// check converts a transport error or an error response into a domain
// error.
func (c *Client) check(op string, resp *req.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &pdm.NetworkError{Op: op, Err: err}
	}
	if !resp.IsErrorState() {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &pdm.NetworkError{Op: op, Err: fmt.Errorf("server returned %s", resp.Status)}
	}
	if apiErr, ok := resp.ErrorResult().(*httpapi.APIError); ok && apiErr.Code != "" {
		return fmt.Errorf("%s: %w", op, httpapi.FromAPIError(apiErr))
	}
	return fmt.Errorf("%s: unexpected response %s", op, resp.Status)
}

func (c *Client) GetRecord(ctx context.Context, path string) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.reader().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&out).
		Get(httpapi.PathRecord)
	if err := c.check("get record", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRecordByID(ctx context.Context, id string) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.reader().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&out).
		Get(strings.Replace(httpapi.PathRecordByID, ":id", "{id}", 1))
	if err := c.check("get record by id", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRecords(ctx context.Context, prefix string) ([]*pdm.ServerFileRecord, error) {
	var out []*pdm.ServerFileRecord
	resp, err := c.reader().
		SetContext(ctx).
		SetQueryParam("prefix", prefix).
		SetSuccessResult(&out).
		Get(httpapi.PathRecords)
	if err := c.check("list records", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Checkout(ctx context.Context, r pdm.CheckoutRequest) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.as(r.Holder).
		SetContext(ctx).
		SetQueryParam("path", r.Path).
		SetQueryParam("allow_other_device", strconv.FormatBool(r.AllowOtherDevice)).
		SetSuccessResult(&out).
		Post(httpapi.PathCheckout)
	if err := c.check("checkout", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Checkin(ctx context.Context, r pdm.CheckinRequest, content io.Reader) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.as(r.Holder).
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"path":         r.Path,
			"content_hash": r.ContentHash,
			"size":         strconv.FormatInt(r.Size, 10),
			"comment":      r.Comment,
			"keep_lock":    strconv.FormatBool(r.KeepLock),
		}).
		SetContentType("application/octet-stream").
		SetBody(content).
		SetSuccessResult(&out).
		Put(httpapi.PathCheckin)
	if err := c.check("checkin", resp, err); err != nil {
		return nil, err
	}
	c.logger.Debug("checked in over http", "path", r.Path, "version", out.Version)
	return &out, nil
}

func (c *Client) Release(ctx context.Context, path string, holder pdm.LockHolder) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.as(holder).
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&out).
		Post(httpapi.PathRelease)
	if err := c.check("release", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ForceRelease(ctx context.Context, path string, by pdm.Requestor) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.asRequestor(by).
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&out).
		Post(httpapi.PathForceRelease)
	if err := c.check("force release", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download streams the body straight into w; error bodies are decoded by
// hand because auto-read is off.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (*pdm.ServerFileRecord, error) {
	resp, err := c.reader().
		SetContext(ctx).
		DisableAutoReadResponse().
		SetQueryParam("path", path).
		Get(httpapi.PathContent)
	if err != nil {
		return nil, &pdm.NetworkError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		var apiErr httpapi.APIError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("download: %w", httpapi.FromAPIError(&apiErr))
		}
		return nil, c.check("download", resp, nil)
	}

	rec, err := httpapi.DecodeRecord(resp.Header.Get(httpapi.HeaderRecord))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return nil, &pdm.NetworkError{Op: "download", Err: err}
	}
	return rec, nil
}

func (c *Client) Delete(ctx context.Context, path string, by pdm.Requestor) error {
	resp, err := c.asRequestor(by).
		SetContext(ctx).
		SetQueryParam("path", path).
		Delete(httpapi.PathRecord)
	return c.check("delete", resp, err)
}

func (c *Client) Move(ctx context.Context, from, to string, by pdm.Requestor) (*pdm.ServerFileRecord, error) {
	var out pdm.ServerFileRecord
	resp, err := c.asRequestor(by).
		SetContext(ctx).
		SetBody(&httpapi.MoveRequest{From: from, To: to}).
		SetSuccessResult(&out).
		Post(httpapi.PathMove)
	if err := c.check("move", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, path string) ([]*pdm.Revision, error) {
	var out []*pdm.Revision
	resp, err := c.reader().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetSuccessResult(&out).
		Get(httpapi.PathHistory)
	if err := c.check("history", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}
