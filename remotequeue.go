package seleniumpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Nice levels accepted by the remote queue service; lower is more urgent.
const (
	MinNiceLevel = -20
	MaxNiceLevel = 19
)

// releaseTimeout bounds the request that gives a resource back.
var releaseTimeout = 30 * time.Second

// RemoteQueueConfig configures a RemoteQueue.
type RemoteQueueConfig struct {
	// BaseURL of the queue service, e.g. "https://tafms.example.com/api".
	BaseURL string
	// User and Password are sent with every request using Basic auth.
	User, Password string
	// NiceLevel is the priority of this client's requests, in [-20, 19].
	NiceLevel int
	// JobName is an optional label shown by the service.
	JobName string
	// ResourceType defaults to "selenium".
	ResourceType string
	// MaxPolls bounds the number of requests issued by one Acquire. Zero
	// means no bound: the service paces the long poll and decides when to
	// grant or reject.
	MaxPolls int
	// Threads is reported by HostCount.
	Threads int
	// Client overrides the HTTP client. The default does not reuse
	// connections.
	Client *http.Client
}

// RemoteQueue obtains shared Selenium resources from a remote prioritisation
// service that arbitrates between independent clients.
type RemoteQueue struct {
	cfg    RemoteQueueConfig
	base   string
	client *http.Client

	// requestIDs maps an acquired endpoint to the request ID needed to
	// release it.
	requestIDs sync.Map
}

// NewRemoteQueue validates cfg and returns a client. All configuration
// problems are reported here, before any Acquire is attempted.
func NewRemoteQueue(cfg RemoteQueueConfig) (*RemoteQueue, error) {
	if cfg.NiceLevel < MinNiceLevel || cfg.NiceLevel > MaxNiceLevel {
		return nil, &ConfigError{Msg: fmt.Sprintf("illegal value for tafms.niceLevel: %d; value must be from %d to +%d, inclusive", cfg.NiceLevel, MinNiceLevel, MaxNiceLevel)}
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("illegal URL for tafms.url: %q", cfg.BaseURL), Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Msg: fmt.Sprintf("illegal URL for tafms.url: %q", cfg.BaseURL)}
	}
	if cfg.User == "" {
		return nil, &ConfigError{Msg: "TAFMS user name is missing"}
	}
	if cfg.Password == "" {
		return nil, &ConfigError{Msg: "TAFMS password is missing"}
	}
	if cfg.ResourceType == "" {
		cfg.ResourceType = "selenium"
	}
	if cfg.MaxPolls < 0 {
		cfg.MaxPolls = 0
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: true,
			},
		}
	}

	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &RemoteQueue{cfg: cfg, base: base, client: client}, nil
}

type queueRequest struct {
	ResourceType string `json:"resourceType"`
	NiceLevel    int    `json:"niceLevel"`
	JobName      string `json:"jobName,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
}

type queueReply struct {
	Waiting      bool   `json:"waiting"`
	RequestID    string `json:"requestId"`
	ErrorMessage string `json:"errorMessage"`
	Resource     *struct {
		URL string `json:"url"`
	} `json:"resource"`

	hasError bool
}

func (r *queueReply) UnmarshalJSON(data []byte) error {
	type plain queueReply
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	_, r.hasError = fields["errorMessage"]
	return nil
}

// Acquire asks the service for a resource and keeps polling while the
// service reports that the request is waiting. It returns (nil, nil) on any
// transport, protocol or service error; the cause is logged.
func (q *RemoteQueue) Acquire(ctx context.Context) (*Endpoint, error) {
	query := queueRequest{
		ResourceType: q.cfg.ResourceType,
		NiceLevel:    q.cfg.NiceLevel,
		JobName:      q.cfg.JobName,
	}

	for polls := 0; q.cfg.MaxPolls == 0 || polls < q.cfg.MaxPolls; polls++ {
		if err := ctx.Err(); err != nil {
			glog.Warningf("remote queue: acquire aborted: %v", err)
			return nil, nil
		}

		reply, body, err := q.post(ctx, query)
		if err != nil {
			glog.Errorf("remote queue: exception in communication with TAFMS server: %v", err)
			return nil, nil
		}
		if reply == nil {
			// post has logged the cause.
			return nil, nil
		}
		if reply.hasError {
			glog.Errorf("remote queue: TAFMS server reported an error: %s", reply.ErrorMessage)
			return nil, nil
		}
		if reply.RequestID == "" {
			glog.Errorf("remote queue: TAFMS server response did not provide a request ID. Message was: %s", body)
			return nil, nil
		}
		if reply.Waiting {
			glog.V(1).Infof("remote queue: request %s is waiting", reply.RequestID)
			query.RequestID = reply.RequestID
			continue
		}
		if reply.Resource == nil || reply.Resource.URL == "" {
			glog.Errorf("remote queue: TAFMS server response did not provide a resource. Message was: %s", body)
			return nil, nil
		}

		e, err := ParseEndpoint(reply.Resource.URL)
		if err != nil {
			glog.Errorf("remote queue: TAFMS server granted an unusable resource: %v", err)
			return nil, nil
		}
		q.requestIDs.Store(e.String(), reply.RequestID)
		glog.Infof("remote queue: request %s granted %s", reply.RequestID, e)
		return e, nil
	}

	glog.Errorf("remote queue: no resource granted after %d polls", q.cfg.MaxPolls)
	return nil, nil
}

// post sends one resource query. A nil reply with a nil error means the
// service answered with something unusable, which has been logged.
func (q *RemoteQueue) post(ctx context.Context, query queueRequest) (*queueReply, []byte, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.base+"resource", bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Credentials go out with the first request to avoid the challenge round
	// trip.
	req.SetBasicAuth(q.cfg.User, q.cfg.Password)

	glog.V(2).Infof("-> POST %s\n%s", req.URL, data)
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	glog.V(2).Infof("<- %s\n%s", resp.Status, body)

	if resp.StatusCode != http.StatusOK {
		glog.Errorf("remote queue: error when querying TAFMS server for resource. HTTP status: %d, message: %s", resp.StatusCode, body)
		return nil, body, nil
	}

	reply := new(queueReply)
	if err := json.Unmarshal(body, reply); err != nil {
		glog.Errorf("remote queue: invalid JSON received from TAFMS server: %v. JSON message was: %s", err, body)
		return nil, body, nil
	}
	return reply, body, nil
}

// Release tells the service that the resource behind e is no longer used.
// Endpoints that were not acquired through this client are ignored.
func (q *RemoteQueue) Release(e *Endpoint) {
	if e == nil {
		return
	}
	v, ok := q.requestIDs.LoadAndDelete(e.String())
	if !ok {
		return
	}
	id := v.(string)

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, q.base+"resource/"+url.PathEscape(id), nil)
	if err != nil {
		glog.Warningf("remote queue: could not release TAFMS resource %s: %v", id, err)
		return
	}
	req.SetBasicAuth(q.cfg.User, q.cfg.Password)

	glog.V(2).Infof("-> DELETE %s", req.URL)
	resp, err := q.client.Do(req)
	if err != nil {
		glog.Warningf("remote queue: could not release TAFMS resource %s: %v", id, err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	glog.Infof("remote queue: released request %s (%s)", id, e)
}

// RequestID returns the service's request ID for an acquired endpoint.
func (q *RemoteQueue) RequestID(e *Endpoint) (string, bool) {
	v, ok := q.requestIDs.Load(e.String())
	if !ok {
		return "", false
	}
	return v.(string), true
}

// HostCount returns the number of sessions that may run concurrently. The
// service shares its resources, so this is the configured worker count.
func (q *RemoteQueue) HostCount() int {
	if q.cfg.Threads <= 0 {
		return 1
	}
	return q.cfg.Threads
}
