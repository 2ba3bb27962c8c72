package tp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/pvriel/macaroons"
	"github.com/pvriel/macaroons/internal/merr"
)

type ClientOption func(*Client)

// WithHTTP specifies the HTTP client used for requests to third parties.
func WithHTTP(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// Client fetches discharge credentials from third-party services.
type Client struct {
	http *http.Client
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = cleanhttp.DefaultClient()
	}

	return c
}

// FetchDischarge posts the sealed ticket to the service at location and
// decodes the discharge credential it returns. The location is used as the
// base URL for [DischargePath].
func (c *Client) FetchDischarge(ctx context.Context, location string, ticket []byte) (*macaroons.Macaroon, error) {
	body, err := json.Marshal(&jsonDischargeRequest{Ticket: ticket})
	if err != nil {
		return nil, fmt.Errorf("fetch discharge: %w", err)
	}

	url := strings.TrimSuffix(location, "/") + DischargePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetch discharge: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch discharge: %w", err)
	}
	defer resp.Body.Close()

	var jr jsonDischargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("fetch discharge: parsing response: %w", err)
	}

	switch {
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch discharge: %s: %s", resp.Status, jr.Error)
	case jr.Discharge == "":
		return nil, fmt.Errorf("fetch discharge: blank discharge in response")
	}

	return macaroons.DecodeToken(jr.Discharge)
}

// DischargeAll fetches and binds a discharge for every third-party caveat of
// m that points at one of the given service locations and has no discharge
// bound yet. Caveats pointing elsewhere are left alone. Per caveat, each of
// its matching locations is tried until one yields a discharge.
func (c *Client) DischargeAll(ctx context.Context, m *macaroons.Macaroon, locations ...string) error {
	var err error

	for _, cav := range m.ThirdPartyCaveatsFor(locations...) {
		var (
			discharge *macaroons.Macaroon
			cavErr    error
		)

		for _, loc := range cav.Locations() {
			found := false
			for _, want := range locations {
				if loc == want {
					found = true
					break
				}
			}
			if !found {
				continue
			}

			if discharge, cavErr = c.FetchDischarge(ctx, loc, cav.ID()); cavErr == nil {
				break
			}
		}

		switch {
		case discharge == nil:
			err = merr.Appendf(err, "discharging %x: %w", cav.ID(), cavErr)
		default:
			if bindErr := m.BindDischarge(discharge); bindErr != nil {
				err = merr.Append(err, bindErr)
			}
		}
	}

	return err
}
