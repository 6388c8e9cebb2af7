package airudder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dialer-cli/internal/resilience"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{Code: 0, Message: "ok", Body: raw}) //nolint:errcheck
}

func tokenHandler(t *testing.T, w http.ResponseWriter, r *http.Request) bool {
	t.Helper()
	if r.URL.Path != "/service/auth/token" {
		return false
	}
	var body map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	assert.Equal(t, "key", body["appKey"])
	assert.Equal(t, "secret", body["appSecret"])
	writeEnvelope(t, w, map[string]any{"token": "tok-1", "expiresIn": 3600})
	return true
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("key", "secret", WithBaseURL(srv.URL), WithRateLimit(1000))
	return srv, c
}

func sampleTask() CreateTaskRequest {
	return CreateTaskRequest{
		TaskName:  "grab_rank_1-2026-10-17-1",
		GroupName: "GRAB_B1_HIGH",
		StartTime: time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC),
		ContactList: []Contact{
			{PhoneNumber: "+6281234567890", CustomizeVariables: map[string]string{"dpd": "3"}},
		},
	}
}

func TestCreateTask(t *testing.T) {
	tests := []struct {
		name          string
		handler       func(t *testing.T) http.HandlerFunc
		wantID        string
		wantErr       bool
		wantAPIErr    bool
		wantVendorErr bool
		wantTransient bool
	}{
		{
			name: "happy path",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					if tokenHandler(t, w, r) {
						return
					}
					assert.Equal(t, http.MethodPost, r.Method)
					assert.Equal(t, "/service/pds/task/create", r.URL.Path)
					assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

					var req CreateTaskRequest
					require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "GRAB_B1_HIGH", req.GroupName)
					require.Len(t, req.ContactList, 1)
					assert.Equal(t, "3", req.ContactList[0].CustomizeVariables["dpd"])

					writeEnvelope(t, w, CreateTaskResponse{TaskID: "task-abc"})
				}
			},
			wantID: "task-abc",
		},
		{
			name: "vendor error code",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					if tokenHandler(t, w, r) {
						return
					}
					json.NewEncoder(w).Encode(envelope{Code: 4001, Message: "group not found"}) //nolint:errcheck
				}
			},
			wantErr:       true,
			wantVendorErr: true,
		},
		{
			name: "bad request",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					if tokenHandler(t, w, r) {
						return
					}
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(`{"error":"bad"}`)) //nolint:errcheck
				}
			},
			wantErr:    true,
			wantAPIErr: true,
		},
		{
			name: "server error is transient",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					if tokenHandler(t, w, r) {
						return
					}
					w.WriteHeader(http.StatusBadGateway)
				}
			},
			wantErr:       true,
			wantAPIErr:    true,
			wantTransient: true,
		},
		{
			name: "empty task id",
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) {
					if tokenHandler(t, w, r) {
						return
					}
					writeEnvelope(t, w, CreateTaskResponse{})
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, tt.handler(t))
			resp, err := c.CreateTask(context.Background(), sampleTask())
			if tt.wantErr {
				require.Error(t, err)
				if tt.wantAPIErr {
					var apiErr *APIError
					assert.True(t, errors.As(err, &apiErr))
				}
				if tt.wantVendorErr {
					var vErr *VendorError
					require.True(t, errors.As(err, &vErr))
					assert.Equal(t, 4001, vErr.Code)
				}
				assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, resp.TaskID)
		})
	}
}

func TestCreateTask_NoContacts(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	req := sampleTask()
	req.ContactList = nil
	_, err := c.CreateTask(context.Background(), req)
	require.Error(t, err)
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	var tokenCalls atomic.Int32
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/service/auth/token" {
			tokenCalls.Add(1)
		}
		if tokenHandler(t, w, r) {
			return
		}
		writeEnvelope(t, w, ListCallsResponse{})
	})

	for range 3 {
		_, err := c.ListTaskCalls(context.Background(), ListCallsRequest{TaskID: "t1"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestTokenShortLifetimeStillCached(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/service/auth/token" {
			tokenCalls.Add(1)
			writeEnvelope(t, w, map[string]any{"token": "tok-short", "expiresIn": 30})
			return
		}
		writeEnvelope(t, w, ListCallsResponse{})
	}))
	t.Cleanup(srv.Close)

	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	c := NewClient("key", "secret", WithBaseURL(srv.URL), WithRateLimit(1000)).(*httpClient)
	c.nowFunc = func() time.Time { return now }

	call := func() {
		_, err := c.ListTaskCalls(context.Background(), ListCallsRequest{TaskID: "t1"})
		require.NoError(t, err)
	}
	call()
	now = now.Add(10 * time.Second)
	call()
	assert.Equal(t, int32(1), tokenCalls.Load(), "30s token renewed 15s early")

	now = now.Add(6 * time.Second)
	call()
	assert.Equal(t, int32(2), tokenCalls.Load())
}

func TestRefreshMargin(t *testing.T) {
	assert.Equal(t, time.Minute, refreshMargin(time.Hour))
	assert.Equal(t, 15*time.Second, refreshMargin(30*time.Second))
	assert.Equal(t, time.Duration(0), refreshMargin(0))
}

func TestTokenRefreshedOnUnauthorized(t *testing.T) {
	var tokenCalls, apiCalls atomic.Int32
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/service/auth/token" {
			tokenCalls.Add(1)
			tokenHandler(t, w, r)
			return
		}
		if apiCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeEnvelope(t, w, CreateTaskResponse{TaskID: "task-2"})
	})

	resp, err := c.CreateTask(context.Background(), sampleTask())
	require.NoError(t, err)
	assert.Equal(t, "task-2", resp.TaskID)
	assert.Equal(t, int32(2), tokenCalls.Load())
	assert.Equal(t, int32(2), apiCalls.Load())
}

func TestTokenFailure(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope{Code: 1001, Message: "invalid app key"}) //nolint:errcheck
	})
	_, err := c.ListTaskCalls(context.Background(), ListCallsRequest{TaskID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch token")
}

func TestListTaskCalls(t *testing.T) {
	start := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if tokenHandler(t, w, r) {
			return
		}
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/service/pds/task/calls", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "task-1", q.Get("taskId"))
		assert.Equal(t, "2026-10-17T08:00:00Z", q.Get("startTime"))
		assert.Equal(t, "2026-10-17T08:10:00Z", q.Get("endTime"))
		assert.Equal(t, "50", q.Get("offset"))
		assert.Equal(t, "100", q.Get("limit"))

		w.Write([]byte(`{"code":0,"message":"ok","body":{"total":51,"list":[{"callid":"c-1","taskId":"task-1","phoneNumber":"+628111","state":"hangup","talkDuration":42,"customizeResults":[{"title":"PTP","value":"yes"}]}]}}`)) //nolint:errcheck
	})

	resp, err := c.ListTaskCalls(context.Background(), ListCallsRequest{
		TaskID: "task-1",
		Start:  start,
		End:    start.Add(10 * time.Minute),
		Offset: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 51, resp.Total)
	require.Len(t, resp.List, 1)
	assert.Equal(t, "c-1", resp.List[0].CallID)
	assert.Equal(t, 42, resp.List[0].TalkDuration)
	assert.Equal(t, "PTP=yes", resp.List[0].Disposition())
}

func TestContextCanceled(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		tokenHandler(t, w, r)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CreateTask(ctx, sampleTask())
	require.Error(t, err)
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 503, Body: "unavailable"}
	assert.Equal(t, "airudder: HTTP 503: unavailable", err.Error())
}
