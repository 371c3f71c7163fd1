package lrs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
	"github.com/tincanhub/tincan-launch/internal/domain/shared"
	"github.com/tincanhub/tincan-launch/internal/domain/xapi"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Settings: activity.LRSSettings{
			Endpoint: srv.URL + "/xapi",
			Username: "user",
			Password: "pass",
			Version:  "1.0.0",
		},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func testAgent() xapi.Agent {
	return xapi.Agent{ObjectType: "Agent", Mbox: "mailto:a@example.com"}
}

func TestNewClient_InvalidEndpoint(t *testing.T) {
	_, err := NewClient(ClientConfig{Settings: activity.LRSSettings{Endpoint: "://bad"}})
	assert.Error(t, err)
}

func TestBasicAuthorization(t *testing.T) {
	client, err := NewClient(ClientConfig{Settings: activity.LRSSettings{
		Endpoint: "https://lrs.example.com/xapi",
		Username: "user",
		Password: "pass",
	}})
	require.NoError(t, err)

	// base64("user:pass")
	assert.Equal(t, "Basic dXNlcjpwYXNz", client.BasicAuthorization())
}

func TestQueryStatements_RequestShape(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		_ = json.NewEncoder(w).Encode(StatementsResultDTO{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.QueryStatements(context.Background(), xapi.StatementQuery{
		ActivityIRI: "https://content.example.com/intro",
		VerbIRI:     xapi.VerbCompleted,
		Agent:       testAgent(),
		Since:       &since,
	})
	require.NoError(t, err)
	require.NotNil(t, gotReq)

	assert.Equal(t, "/xapi/statements", gotReq.URL.Path)
	q := gotReq.URL.Query()
	assert.Equal(t, "https://content.example.com/intro", q.Get("activity"))
	assert.Equal(t, xapi.VerbCompleted, q.Get("verb"))
	assert.Equal(t, "2026-07-01T00:00:00Z", q.Get("since"))
	assert.Equal(t, "false", q.Get("related_activities"))
	assert.Equal(t, "ids", q.Get("format"))

	var agent xapi.Agent
	require.NoError(t, json.Unmarshal([]byte(q.Get("agent")), &agent))
	assert.Equal(t, "mailto:a@example.com", agent.Mbox)

	assert.Equal(t, "1.0.0", gotReq.Header.Get("X-Experience-API-Version"))
	user, pass, ok := gotReq.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user", user)
	assert.Equal(t, "pass", pass)
}

func TestFetchAllStatements_FollowsContinuation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xapi/statements":
			_ = json.NewEncoder(w).Encode(StatementsResultDTO{
				Statements: []xapi.Statement{{ID: "s1"}, {ID: "s2"}},
				More:       "/more/page2",
			})
		case "/more/page2":
			_ = json.NewEncoder(w).Encode(StatementsResultDTO{
				Statements: []xapi.Statement{{ID: "s3"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	all, err := client.FetchAllStatements(context.Background(), xapi.StatementQuery{Agent: testAgent()})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s1", all[0].ID)
	assert.Equal(t, "s3", all[2].ID)
}

func TestQueryStatements_NotFoundIsEmptySet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	all, err := client.FetchAllStatements(context.Background(), xapi.StatementQuery{Agent: testAgent()})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFetchAllStatements_FailsWholeChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xapi/statements":
			_ = json.NewEncoder(w).Encode(StatementsResultDTO{
				Statements: []xapi.Statement{{ID: "s1"}},
				More:       "/more/page2",
			})
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	all, err := client.FetchAllStatements(context.Background(), xapi.StatementQuery{Agent: testAgent()})
	assert.Nil(t, all)
	assert.True(t, shared.IsLRSTransport(err))
}

func TestGetState_MissingDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	body, etag, err := client.GetState(context.Background(), "https://content.example.com/intro", testAgent(), "state-key")
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Empty(t, etag)
}

func TestGetState_ReturnsBodyAndETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xapi/activities/state", r.URL.Path)
		assert.Equal(t, "state-key", r.URL.Query().Get("stateId"))
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write([]byte(`{"reg":1}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	body, etag, err := client.GetState(context.Background(), "https://content.example.com/intro", testAgent(), "state-key")
	require.NoError(t, err)
	assert.JSONEq(t, `{"reg":1}`, string(body))
	assert.Equal(t, `"abc123"`, etag)
}

func TestPutState_PreconditionHeaders(t *testing.T) {
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Clone())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, client.PutState(ctx, "iri", testAgent(), "state-key", []byte(`{}`), ""))
	require.NoError(t, client.PutState(ctx, "iri", testAgent(), "state-key", []byte(`{}`), `"abc123"`))

	require.Len(t, headers, 2)
	assert.Equal(t, "*", headers[0].Get("If-None-Match"))
	assert.Empty(t, headers[0].Get("If-Match"))
	assert.Equal(t, `"abc123"`, headers[1].Get("If-Match"))
	assert.Empty(t, headers[1].Get("If-None-Match"))
}

func TestPutState_ConflictSurfacesAsConcurrentModification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	err := client.PutState(context.Background(), "iri", testAgent(), "state-key", []byte(`{}`), `"stale"`)
	assert.True(t, shared.IsConcurrentModification(err))
}

func TestPutAgentProfile_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xapi/agents/profile", r.URL.Path)
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	err := client.PutAgentProfile(context.Background(), testAgent(), "CMI5LearnerPreferences", map[string]string{}, `"stale"`)
	assert.True(t, shared.IsConcurrentModification(err))
}

func TestSaveStatement(t *testing.T) {
	var gotBody xapi.Statement
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/xapi/statements", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	st := xapi.NewLaunchedStatement(testAgent(), "https://content.example.com/intro", "Intro", "reg-1", time.Now())
	require.NoError(t, client.SaveStatement(context.Background(), st))
	assert.Equal(t, xapi.VerbLaunched, gotBody.Verb.ID)
}

func TestIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xapi/about" {
			_, _ = w.Write([]byte(`{"version":["1.0.0"]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	assert.True(t, client.IsHealthy(context.Background()))

	srv.Close()
	assert.False(t, client.IsHealthy(context.Background()))
}

func TestEndpointNormalization(t *testing.T) {
	client, err := NewClient(ClientConfig{Settings: activity.LRSSettings{
		Endpoint: "https://lrs.example.com/xapi/",
	}})
	require.NoError(t, err)
	assert.Equal(t, "https://lrs.example.com/xapi", client.Endpoint())
}
