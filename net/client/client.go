// Package client is the HTTP client matching net/server's container
// dispatch, used by the CLI and by tests. Grounded on this codebase's
// net/client package: the functional-options constructor and
// doRequest helper are kept verbatim in shape, retargeted from pool CRUD
// to container lifecycle calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"path"

	"github.com/boz/contiman/cerrors"
	"github.com/boz/contiman/log"
	enet "github.com/boz/contiman/net"
	"github.com/boz/contiman/types"
	"github.com/sirupsen/logrus"
)

type Interface interface {
	Create(ctx context.Context, id types.ID, conf []byte) error
	Destroy(ctx context.Context, id types.ID) error
	Start(ctx context.Context, id types.ID) error
	Stop(ctx context.Context, id types.ID, force bool) error
	Query(ctx context.Context, id types.ID) (types.Snapshot, error)
	List(ctx context.Context) ([]types.ID, error)
}

type Opt func(*client) error

func WithHost(host string) Opt {
	return func(c *client) error {
		c.host = host
		return nil
	}
}

func WithLog(l logrus.FieldLogger) Opt {
	return func(c *client) error {
		c.l = l
		return nil
	}
}

type client struct {
	host  string
	chttp *http.Client
	l     logrus.FieldLogger
}

func New(opts ...Opt) (Interface, error) {
	c := &client{
		host:  "http://" + enet.DefaultConnectAddress,
		l:     log.New(),
		chttp: &http.Client{},
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type createRequest struct {
	ID   types.ID        `json:"id"`
	Conf json.RawMessage `json:"conf"`
}

func (c *client) Create(ctx context.Context, id types.ID, conf []byte) error {
	buf, err := json.Marshal(createRequest{ID: id, Conf: conf})
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, "POST", enet.BasePath, bytes.NewBuffer(buf))
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

func (c *client) Destroy(ctx context.Context, id types.ID) error {
	resp, err := c.doRequest(ctx, "DELETE", path.Join(enet.BasePath, string(id)), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

func (c *client) Start(ctx context.Context, id types.ID) error {
	resp, err := c.doRequest(ctx, "POST", path.Join(enet.BasePath, string(id), "start"), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

type stopRequest struct {
	Force bool `json:"force"`
}

func (c *client) Stop(ctx context.Context, id types.ID, force bool) error {
	buf, err := json.Marshal(stopRequest{Force: force})
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, "POST", path.Join(enet.BasePath, string(id), "stop"), bytes.NewBuffer(buf))
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return err
	}
	return errorFromResponse(resp)
}

func (c *client) Query(ctx context.Context, id types.ID) (types.Snapshot, error) {
	resp, err := c.doRequest(ctx, "GET", path.Join(enet.BasePath, string(id)), nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return types.Snapshot{}, err
	}
	if err := errorFromResponse(resp); err != nil {
		return types.Snapshot{}, err
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return types.Snapshot{}, err
	}

	var snap types.Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return types.Snapshot{}, err
	}
	return snap, nil
}

func (c *client) List(ctx context.Context) ([]types.ID, error) {
	resp, err := c.doRequest(ctx, "GET", enet.ListPath, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	if err := errorFromResponse(resp); err != nil {
		return nil, err
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var obj struct {
		IDs []types.ID `json:"ids"`
	}
	if err := json.Unmarshal(buf, &obj); err != nil {
		return nil, err
	}
	return obj.IDs, nil
}

func (c *client) doRequest(ctx context.Context, method string, p string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.host+p, body)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Add("Content-Type", enet.RPCContentType)

	return c.chttp.Do(req)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// errorFromResponse maps a non-2xx response back into the cerrors taxonomy
// so callers can use cerrors.Is/KindOf on it the same way the server side does.
func errorFromResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var body errorBody
	if err := json.Unmarshal(buf, &body); err != nil {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(buf))
	}

	if body.Kind == "" {
		return fmt.Errorf(body.Message)
	}
	return cerrors.FromWire(cerrors.Kind(body.Kind), body.Message)
}
