package airudder

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Contact is one callee in a task. All variables are strings on the wire.
type Contact struct {
	PhoneNumber        string            `json:"phoneNumber"`
	CustomizeVariables map[string]string `json:"customizeVariables,omitempty"`
}

// StrategyConfig controls vendor-side redialing.
type StrategyConfig struct {
	AutoRedial      bool `json:"autoRedial"`
	RedialTimes     int  `json:"redialTimes,omitempty"`
	RedialIntervalS int  `json:"redialInterval,omitempty"`
}

// CreateTaskRequest is the body for POST /service/pds/task/create.
type CreateTaskRequest struct {
	TaskName    string          `json:"taskName"`
	GroupName   string          `json:"groupName"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     time.Time       `json:"endTime"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
	Strategy    *StrategyConfig `json:"strategyConfig,omitempty"`
	ContactList []Contact       `json:"contactList"`
}

// CreateTaskResponse is the body of a successful task creation.
type CreateTaskResponse struct {
	TaskID string `json:"taskId"`
}

// ListCallsRequest pages through call details for one task and window.
type ListCallsRequest struct {
	TaskID string
	Start  time.Time
	End    time.Time
	Offset int
	Limit  int
}

// ListCallsResponse is one page of call details.
type ListCallsResponse struct {
	List  []CallDetail `json:"list"`
	Total int          `json:"total"`
}

// CustomizeResult is an agent-entered disposition field.
type CustomizeResult struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// CallDetail is a single call attempt, returned by the call-detail API and
// carried in CallStatus callbacks.
type CallDetail struct {
	CallID           string            `json:"callid"`
	TaskID           string            `json:"taskId"`
	PhoneNumber      string            `json:"phoneNumber"`
	State            string            `json:"state"`
	HangupReason     string            `json:"hangupReason,omitempty"`
	AgentName        string            `json:"agentName,omitempty"`
	RingDuration     int               `json:"ringDuration"`
	TalkDuration     int               `json:"talkDuration"`
	StartTime        *time.Time        `json:"startTime,omitempty"`
	EndTime          *time.Time        `json:"endTime,omitempty"`
	RecordingURL     string            `json:"reclink,omitempty"`
	CustomizeResults []CustomizeResult `json:"customizeResults,omitempty"`
	CustomerInfo     map[string]string `json:"customerInfo,omitempty"`
}

// Call states reported by the vendor.
const (
	StateDialing     = "dialing"
	StateRinging     = "ringing"
	StateConnected   = "talking"
	StateHangup      = "hangup"
	StateNoAnswer    = "noanswer"
	StateUnreachable = "unreachable"
)

// Callback types.
const (
	CallbackCallStatus  = "CallStatus"
	CallbackTaskStatus  = "TaskStatus"
	CallbackAgentStatus = "AgentStatus"
)

// CallbackEvent is the envelope the vendor posts to the callback URL.
type CallbackEvent struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// ParseCallback decodes a callback envelope.
func ParseCallback(data []byte) (*CallbackEvent, error) {
	var ev CallbackEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, eris.Wrap(err, "airudder: decode callback")
	}
	if ev.Type == "" {
		return nil, eris.New("airudder: callback missing type")
	}
	return &ev, nil
}

// Call decodes the body of a CallStatus callback.
func (e *CallbackEvent) Call() (*CallDetail, error) {
	if e.Type != CallbackCallStatus {
		return nil, eris.Errorf("airudder: callback type %s has no call body", e.Type)
	}
	var cd CallDetail
	if err := json.Unmarshal(e.Body, &cd); err != nil {
		return nil, eris.Wrap(err, "airudder: decode call body")
	}
	if cd.CallID == "" || cd.TaskID == "" {
		return nil, eris.New("airudder: call body missing callid or taskId")
	}
	return &cd, nil
}

// Disposition flattens agent dispositions into "title=value" pairs.
func (c *CallDetail) Disposition() string {
	out := ""
	for i, r := range c.CustomizeResults {
		if i > 0 {
			out += ";"
		}
		out += r.Title + "=" + r.Value
	}
	return out
}
