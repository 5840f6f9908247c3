package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
)

type State = runstate.Snapshot
type Result = model.Result
type Measurement = model.Measurement
type Descriptor = model.Descriptor
type RunSpecification = model.RunSpecification

type Client struct {
	http *http.Client
	host string
}

type RequestError struct {
	ResponseCode int
}

func (e RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.ResponseCode)
}

func New(host string, c *http.Client) Client {
	return Client{http: c, host: host}
}

// StartRun starts a run in the background and returns the state right
// after it was started.
func (c Client) StartRun(ctx context.Context, spec RunSpecification) (State, error) {
	var state State

	if err := c.doJSON(ctx, http.MethodPost, c.url("/runs"), spec, &state); err != nil {
		return State{}, err
	}

	return state, nil
}

func (c Client) CancelRun(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.url("/runs/cancel"), nil, nil)
}

func (c Client) GetState(ctx context.Context) (State, error) {
	var state State

	if err := c.doJSON(ctx, http.MethodGet, c.url("/state"), nil, &state); err != nil {
		return State{}, err
	}

	return state, nil
}

func (c Client) GetResults(ctx context.Context) ([]Result, error) {
	var results []Result

	if err := c.doJSON(ctx, http.MethodGet, c.url("/results"), nil, &results); err != nil {
		return nil, err
	}

	return results, nil
}

func (c Client) GetResult(ctx context.Context, id model.ResultID) (Result, error) {
	var result Result

	if err := c.doJSON(ctx, http.MethodGet, c.url("/results/%d", id), nil, &result); err != nil {
		return Result{}, err
	}

	return result, nil
}

func (c Client) GetMeasurements(ctx context.Context, id model.ResultID) ([]Measurement, error) {
	var measurements []Measurement

	if err := c.doJSON(ctx, http.MethodGet, c.url("/results/%d/measurements", id), nil, &measurements); err != nil {
		return nil, err
	}

	return measurements, nil
}

// Upload starts uploading the pending measurements of a result, or all of
// them if resultID is nil.
func (c Client) Upload(ctx context.Context, resultID *model.ResultID) error {
	u := c.url("/uploads")
	if resultID != nil {
		u += "?" + url.Values{"result-id": {strconv.FormatInt(int64(*resultID), 10)}}.Encode()
	}

	return c.doJSON(ctx, http.MethodPost, u, nil, nil)
}

func (c Client) GetDescriptors(ctx context.Context) ([]Descriptor, error) {
	var descriptors []Descriptor

	if err := c.doJSON(ctx, http.MethodGet, c.url("/descriptors"), nil, &descriptors); err != nil {
		return nil, err
	}

	return descriptors, nil
}

// ImportDescriptor installs a descriptor document. contentType selects
// between JSON and YAML.
func (c Client) ImportDescriptor(ctx context.Context, document []byte, contentType string) (Descriptor, error) {
	req, err := http.NewRequest(http.MethodPost, c.url("/descriptors"), bytes.NewReader(document))
	if err != nil {
		return Descriptor{}, err
	}

	req.Header.Set("Content-Type", contentType)

	var d Descriptor

	if err = c.do(ctx, req, &d); err != nil {
		return Descriptor{}, err
	}

	return d, nil
}

func (c Client) GetSettings(ctx context.Context) (map[string]string, error) {
	var all map[string]string

	if err := c.doJSON(ctx, http.MethodGet, c.url("/settings"), nil, &all); err != nil {
		return nil, err
	}

	return all, nil
}

func (c Client) SetSetting(ctx context.Context, key, value string) error {
	return c.doJSON(ctx, http.MethodPut, c.url("/settings/%s", url.PathEscape(key)), map[string]string{"value": value}, nil)
}

func (c Client) url(path string, args ...any) string {
	return fmt.Sprintf(c.host+path, args...)
}

func (c Client) doJSON(ctx context.Context, method, url string, request, response any) error {
	var body io.Reader

	if request != nil {
		b, err := json.Marshal(request)
		if err != nil {
			return err
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}

	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(ctx, req, response)
}

func (c Client) do(ctx context.Context, req *http.Request, body any) error {
	req = req.WithContext(ctx)
	req.Header.Add("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return RequestError{res.StatusCode}
	}

	if body != nil {
		d := json.NewDecoder(res.Body)

		if err = d.Decode(body); err != nil {
			return err
		}
	}

	return nil
}
