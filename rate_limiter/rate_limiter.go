// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rate_limiter

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"
)

// InstrumentedRoundTripper wraps http.RoundTripper to observe metrics and
// rate limit if necessary.
type InstrumentedRoundTripper struct {
	rateLimiter *rate.Limiter
	source      string
	rt          http.RoundTripper
}

func (irt *InstrumentedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if irt.rateLimiter != nil {
		// Waiting honours the request context so a canceled caller is not
		// held up by the limiter.
		if err := irt.rateLimiter.Wait(req.Context()); err != nil {
			metrics.IncrCounterWithLabels([]string{"http", "ratelimit", "error_count"}, 1,
				[]metrics.Label{{Name: "source", Value: irt.source}})
			return nil, fmt.Errorf("transport: unable to ratelimit: %w", err)
		}
	}

	labels := []metrics.Label{
		{Name: "method", Value: req.Method},
		{Name: "source", Value: irt.source},
	}

	defer metrics.MeasureSinceWithLabels([]string{"http", "dur"}, time.Now(), labels)

	resp, err := irt.rt.RoundTrip(req)
	if err == nil && resp != nil {
		metrics.IncrCounterWithLabels([]string{"http", "req"}, 1,
			append(labels, metrics.Label{Name: "code", Value: strconv.Itoa(resp.StatusCode)}))
	}

	return resp, err
}

// NewInstrumentedWrapper returns the provided http client with a rate limiter,
// if no client is provided, a new one will be created using
// github.com/hashicorp/go-cleanhttp. To disable rate limiting, set ratePerSec
// to a negative value. Setting it to 0 blocks all requests. Source is used as
// a label for metrics.
func NewInstrumentedWrapper(source string, ratePerSec int, client *http.Client) *http.Client {
	httpClient := cleanhttp.DefaultPooledClient()
	if client != nil {
		httpClient = client
	}

	rt := httpClient.Transport
	if rt == nil {
		rt = cleanhttp.DefaultPooledTransport()
	}
	if t, ok := rt.(*http.Transport); ok {
		t.MaxConnsPerHost = 50
	}

	irt := &InstrumentedRoundTripper{
		rt:     rt,
		source: source,
	}

	if ratePerSec >= 0 {
		irt.rateLimiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}

	httpClient.Transport = irt

	return httpClient
}
