// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package dashboard implements the client for the Data Product
// Dashboard's registration endpoint, superseding the
// original ska_pst_send.DpdApiClient's two-endpoint
// (reindexdataproducts/dataproductlist) design with the single
// addDataProduct POST endpoint.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/backoff"
	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	"github.com/ska-telescope/ska-pst-send/pkg/metrics"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
)

// requestTimeout bounds a single registration attempt.
const requestTimeout = 10 * time.Second

// Client registers completed scans with the Dashboard.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// New builds a Client for baseURL. An empty baseURL means the
// Dashboard is not configured; callers should skip registration
// entirely in that case.
func New(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// Enabled reports whether a Dashboard endpoint has been configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Register POSTs doc's metadata document as JSON to
// {baseURL}/dataproduct/api/addDataProduct, retrying non-2xx responses
// and network errors with the standard backoff schedule up to 3
// attempts.
func (c *Client) Register(ctx context.Context, triple pstserrors.ScanTriple, doc *dataproduct.Document) error {
	correlationID := uuid.NewString()
	url := c.baseURL + "/dataproduct/api/addDataProduct"

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal metadata document for %s: %w", triple, err)
	}

	// FileConfig's 3-attempt schedule is the Dashboard retry budget,
	// distinct from the 5-attempt schedule used for subprocess/other
	// retries.
	cfg := backoff.FileConfig("dashboard:" + triple.String())

	err = backoff.Retry(ctx, cfg, c.logger, func(attempt int) error {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.NewPermanentError(fmt.Errorf("build dashboard request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warnw("dashboard request failed", "scan", triple.String(), "attempt", attempt, "correlation_id", correlationID, "error", err)
			return backoff.NewTransientError(&pstserrors.DashboardUnavailableError{URL: url, Scan: triple, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			c.logger.Warnw("dashboard rejected registration", "scan", triple.String(), "attempt", attempt, "status", resp.StatusCode, "correlation_id", correlationID)
			return backoff.NewTransientError(&pstserrors.DashboardUnavailableError{URL: url, StatusCode: resp.StatusCode, Scan: triple})
		}

		return nil
	})

	if err != nil {
		metrics.RecordDashboardRequest("failure")
		return err
	}

	metrics.RecordDashboardRequest("success")
	c.logger.Infow("registered scan with dashboard", "scan", triple.String(), "correlation_id", correlationID)
	return nil
}
