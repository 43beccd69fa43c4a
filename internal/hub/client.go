package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	AppID       string
	AccessToken string
	HubIP       string
	UseLocal    bool
	Platform    Platform
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to one hub installation, either through the cloud SmartApp
// endpoint or directly on the LAN.
type Client struct {
	mu          sync.RWMutex
	scheme      string
	host        string
	path        string
	endpointErr error
	token       string
	hubIP       string
	useLocal    bool
	platform    Platform

	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
}

// New builds a client from cfg. A BaseURL that cannot be parsed is not
// rejected here; every cloud call then fails with ErrTransport.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "hub")

	if cfg.Platform == "" {
		cfg.Platform = PlatformSmartThings
	}
	c.platform = cfg.Platform
	c.token = cfg.AccessToken
	c.hubIP = cfg.HubIP
	c.useLocal = cfg.UseLocal
	c.setEndpoint(cfg.BaseURL, cfg.AppID)
	return c
}

func (c *Client) setEndpoint(baseURL, appID string) {
	u, err := url.Parse(baseURL)
	if err != nil {
		c.endpointErr = fmt.Errorf("parse base url %q: %w", baseURL, err)
		return
	}

	c.scheme = u.Scheme
	c.host = u.Host
	if c.platform == PlatformSmartThings {
		if c.scheme == "" {
			c.scheme = "https"
		}
		if u.Hostname() == "" {
			c.host = defaultCloudHost
		}
		p := u.Path
		if p == "" {
			p = defaultCloudPath
		}
		c.path = withSlash(p) + appID + "/"
		return
	}

	if c.scheme == "" {
		c.scheme = "http"
	}
	c.path = withSlash(u.Path)
}

func withSlash(p string) string {
	if !strings.HasSuffix(p, "/") {
		return p + "/"
	}
	return p
}

// UpdateConnection changes the LAN hub address and the local-command
// preference, e.g. after the hub's IP changed.
func (c *Client) UpdateConnection(hubIP string, useLocal bool) {
	c.logger.Debug("updating connection", "hub_ip", hubIP, "use_local", useLocal)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hubIP = hubIP
	c.useLocal = useLocal
}

func (c *Client) Platform() Platform {
	return c.platform
}

// Route reports where RunCommand and EnableDirectCallback would currently go.
func (c *Client) Route() Route {
	if _, ok := c.localEvent(); ok {
		return RouteLocal
	}
	return RouteCloud
}

func (c *Client) ListDevices(ctx context.Context) (Value, error) {
	return c.get(ctx, "ListDevices", "devices")
}

func (c *Client) GetDevice(ctx context.Context, deviceID string) (Value, error) {
	return c.get(ctx, "GetDevice", deviceID+"/query")
}

func (c *Client) GetUpdates(ctx context.Context) (Value, error) {
	return c.get(ctx, "GetUpdates", "getUpdates")
}

// GetSubscriptionService uses the route name exactly as the SmartApp
// registers it, misspelling included.
func (c *Client) GetSubscriptionService(ctx context.Context) (Value, error) {
	return c.get(ctx, "GetSubscriptionService", "getSubcriptionService")
}

// RunCommand sends command to the device. values may be nil. The hub's
// answer carries nothing useful and is dropped.
func (c *Client) RunCommand(ctx context.Context, deviceID, command string, values any) error {
	target, local := c.localEvent()
	c.logger.Debug("run command", "device", deviceID, "command", command, "values", values, "local", local)

	if local {
		_, err := c.do(ctx, request{
			op:     "RunCommand",
			route:  RouteLocal,
			method: http.MethodPost,
			uri:    target,
			body: localCommand{
				DeviceID: deviceID,
				Command:  command,
				Values:   values,
			},
			headers: c.eventHeaders("hkCommand"),
			discard: true,
		})
		return err
	}

	_, err := c.do(ctx, request{
		op:      "RunCommand",
		route:   RouteCloud,
		method:  http.MethodPost,
		path:    deviceID + "/command/" + command,
		body:    values,
		discard: true,
	})
	return err
}

// EnableDirectCallback asks the hub to push attribute changes to
// myIP:myPort instead of waiting to be polled.
func (c *Client) EnableDirectCallback(ctx context.Context, myIP string, myPort int) error {
	target, local := c.localEvent()
	if local {
		_, err := c.do(ctx, request{
			op:      "EnableDirectCallback",
			route:   RouteLocal,
			method:  http.MethodPost,
			uri:     target,
			body:    directTarget{IP: myIP, Port: myPort},
			headers: c.eventHeaders("enableDirect"),
			discard: true,
		})
		return err
	}

	_, err := c.do(ctx, request{
		op:      "EnableDirectCallback",
		route:   RouteCloud,
		method:  http.MethodGet,
		path:    "startDirect/" + myIP + "/" + strconv.Itoa(myPort),
		discard: true,
	})
	return err
}

type localCommand struct {
	DeviceID string `json:"deviceid"`
	Command  string `json:"command"`
	Values   any    `json:"values,omitempty"`
}

type directTarget struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// localEvent returns the hub's LAN event URL when all three routing
// conditions hold: local commands enabled, hub address known, and a
// platform whose hub listens on LocalHubPort.
func (c *Client) localEvent() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.useLocal || c.hubIP == "" || c.platform != PlatformSmartThings {
		return "", false
	}
	return "http://" + net.JoinHostPort(c.hubIP, strconv.Itoa(LocalHubPort)) + "/event", true
}

func (c *Client) eventHeaders(evtType string) map[string]string {
	return map[string]string{
		"evtSource": "Homebridge_" + string(c.platform),
		"evtType":   evtType,
	}
}

func (c *Client) cloudURL(dataPath string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.endpointErr != nil {
		return "", c.endpointErr
	}
	u := url.URL{
		Scheme:   c.scheme,
		Host:     c.host,
		Path:     c.path + dataPath,
		RawQuery: url.Values{"access_token": {c.token}}.Encode(),
	}
	return u.String(), nil
}

type request struct {
	op      string
	route   Route
	method  string
	path    string
	uri     string
	body    any
	headers map[string]string
	discard bool
}

func (c *Client) get(ctx context.Context, op, path string) (Value, error) {
	return c.do(ctx, request{op: op, route: RouteCloud, method: http.MethodGet, path: path})
}

func (c *Client) do(ctx context.Context, req request) (Value, error) {
	start := time.Now()
	v, err := c.send(ctx, req)
	c.metrics.observe(req.op, req.route, err, time.Since(start))
	if err != nil {
		c.logger.Debug("hub request failed", "op", req.op, "route", req.route, "err", err)
	}
	return v, err
}

func (c *Client) send(ctx context.Context, req request) (Value, error) {
	fail := func(kind error, status int, err error) (Value, error) {
		return Value{}, &RequestError{Op: req.op, Route: req.route, StatusCode: status, Kind: kind, Err: err}
	}

	target := req.uri
	if req.route == RouteCloud {
		u, err := c.cloudURL(req.path)
		if err != nil {
			return fail(ErrTransport, 0, err)
		}
		target = u
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return Value{}, fmt.Errorf("%s: encode body: %w", req.op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return fail(ErrTransport, 0, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	// The hub matches these names case-sensitively, so bypass canonicalisation.
	for k, v := range req.headers {
		httpReq.Header[k] = []string{v}
	}

	c.logger.Debug("hub request", "op", req.op, "method", req.method, "route", req.route, "path", req.path, "uri", req.uri)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(ErrTransport, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(ErrTransport, resp.StatusCode, err)
	}
	c.logger.Debug("hub response", "op", req.op, "status", resp.StatusCode, "body", string(data))

	if req.route == RouteLocal && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fail(ErrStatus, resp.StatusCode, nil)
	}
	if req.discard {
		return Value{}, nil
	}
	if !json.Valid(data) {
		return fail(ErrDecode, resp.StatusCode, nil)
	}
	return Value{Raw: data}, nil
}
