package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	appkafka "example.com/photoposts/internal/broker"
	"example.com/photoposts/internal/middleware"
	"example.com/photoposts/internal/models"
	"example.com/photoposts/internal/store"
)

var testSecret = []byte("test-secret")

//
// --- Setup test server ---
//

type testEnv struct {
	server  *Server
	posts   *store.Memory
	journal *store.MockJournal
	kafka   *appkafka.MockKafka
	ts      *httptest.Server
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	posts := store.NewMemory(store.Ascending, store.Generate(20, rand.New(rand.NewSource(1))))
	journal := store.NewMockJournal()
	mockKafka := &appkafka.MockKafka{Journal: journal}

	s := New(posts, journal, appkafka.NewPublisher(mockKafka), Options{
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		PageSize:   10,
	})
	ts := httptest.NewServer(s.Router([]string{"*"}))
	t.Cleanup(ts.Close)

	return &testEnv{server: s, posts: posts, journal: journal, kafka: mockKafka, ts: ts}
}

//
// --- Helpers ---
//

func makeTestToken(t *testing.T, username string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, username, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return token
}

// send a request with an optional JSON body and bearer token, and check the status
func sendRequest(t *testing.T, method, url, body, token string, expectedStatus int) []byte {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != expectedStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, string(b))
	}
	return b
}

func decodePosts(t *testing.T, b []byte) []models.Post {
	t.Helper()
	var posts []models.Post
	if err := json.Unmarshal(b, &posts); err != nil {
		t.Fatalf("decode posts failed: %v (%s)", err, string(b))
	}
	return posts
}

func decodePost(t *testing.T, b []byte) models.Post {
	t.Helper()
	var p models.Post
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("decode post failed: %v (%s)", err, string(b))
	}
	return p
}

const newPostBody = `{"id":"-1","description":"d","author":"A","photoLink":"http://x",
	"createdAt":"2018-03-06T12:00:00Z","likes":[],"hashTags":["life"]}`

//
// --- Tests ---
//

func TestListPosts_DefaultPage(t *testing.T) {
	env := setupTestServer(t)

	posts := decodePosts(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts", "", "", http.StatusOK))
	if len(posts) != 10 || posts[0].ID != "0" {
		t.Fatalf("expected first 10 posts starting at 0, got %d", len(posts))
	}
}

func TestListPosts_Filters(t *testing.T) {
	env := setupTestServer(t)

	q := url.Values{}
	q.Set("skip", "0")
	q.Set("top", "20")
	q.Set("author", "Author 0")
	posts := decodePosts(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts?"+q.Encode(), "", "", http.StatusOK))
	if len(posts) != 1 || posts[0].Author != "Author 0" {
		t.Fatalf("expected exactly Author 0, got %+v", posts)
	}

	q = url.Values{}
	q.Set("top", "1")
	q.Set("date", store.SeedTime.Format(time.RFC3339))
	posts = decodePosts(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts?"+q.Encode(), "", "", http.StatusOK))
	if len(posts) != 1 {
		t.Fatalf("expected one post with the seed date, got %d", len(posts))
	}

	posts = decodePosts(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts?top=20&tags=minimalism,roof", "", "", http.StatusOK))
	if len(posts) != 4 {
		t.Fatalf("expected 4 posts tagged minimalism and roof, got %d", len(posts))
	}
}

func TestListPosts_MalformedQueryReturnsEmpty(t *testing.T) {
	env := setupTestServer(t)

	for _, query := range []string{"skip=abc", "top=1.5", "date=yesterday", "skip=-1"} {
		b := sendRequest(t, http.MethodGet, env.ts.URL+"/posts?"+query, "", "", http.StatusOK)
		if posts := decodePosts(t, b); len(posts) != 0 {
			t.Fatalf("%s: expected empty page, got %d posts", query, len(posts))
		}
	}
}

func TestGetPost(t *testing.T) {
	env := setupTestServer(t)

	p := decodePost(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts/3", "", "", http.StatusOK))
	if p.ID != "3" || p.Author != "Author 3" {
		t.Fatalf("unexpected post: %+v", p)
	}
	sendRequest(t, http.MethodGet, env.ts.URL+"/posts/invalid%20id", "", "", http.StatusNotFound)
}

// full flow: add -> get -> edit -> remove, each journaled through Kafka
func TestPostLifecycle(t *testing.T) {
	env := setupTestServer(t)
	token := makeTestToken(t, "Author 1")

	created := decodePost(t, sendRequest(t, http.MethodPost, env.ts.URL+"/posts", newPostBody, token, http.StatusCreated))
	if created.ID != "-1" || created.HashTags[0] != "life" {
		t.Fatalf("unexpected created post: %+v", created)
	}
	if env.posts.Len() != 21 {
		t.Fatalf("expected 21 posts, got %d", env.posts.Len())
	}

	edited := decodePost(t, sendRequest(t, http.MethodPatch, env.ts.URL+"/posts/-1",
		`{"description":"new description","author":"Mallory"}`, token, http.StatusOK))
	if edited.Description != "new description" || edited.Author != "A" {
		t.Fatalf("unexpected edited post: %+v", edited)
	}

	sendRequest(t, http.MethodDelete, env.ts.URL+"/posts/-1", "", token, http.StatusNoContent)
	sendRequest(t, http.MethodGet, env.ts.URL+"/posts/-1", "", "", http.StatusNotFound)
	sendRequest(t, http.MethodDelete, env.ts.URL+"/posts/-1", "", token, http.StatusNotFound)

	var events []models.Event
	if err := json.Unmarshal(sendRequest(t, http.MethodGet, env.ts.URL+"/posts/-1/history", "", "", http.StatusOK), &events); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 journaled events, got %d", len(events))
	}
	if events[0].Type != models.EventPostRemoved || events[2].Type != models.EventPostAdded {
		t.Fatalf("expected newest-first history, got %s..%s", events[0].Type, events[2].Type)
	}
	if events[0].Actor != "Author 1" {
		t.Fatalf("expected actor from session, got %q", events[0].Actor)
	}
}

func TestCreatePost_Invalid(t *testing.T) {
	env := setupTestServer(t)

	var resp errorResponse
	b := sendRequest(t, http.MethodPost, env.ts.URL+"/posts",
		`{"id":"-2","description":"d","photoLink":"http://x","createdAt":"2018-03-06T12:00:00Z","likes":[],"hashTags":[]}`,
		"", http.StatusBadRequest)
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode error response failed: %v", err)
	}
	if resp.Field != "author" {
		t.Fatalf("expected author to be reported, got %+v", resp)
	}

	sendRequest(t, http.MethodPost, env.ts.URL+"/posts", `[1,2]`, "", http.StatusBadRequest)
	sendRequest(t, http.MethodPost, env.ts.URL+"/posts", `null`, "", http.StatusBadRequest)
	sendRequest(t, http.MethodPost, env.ts.URL+"/posts", `{"id":`, "", http.StatusBadRequest)
	sendRequest(t, http.MethodPost, env.ts.URL+"/posts",
		`{"id":"-3","description":"d","author":"A","photoLink":"http://x","createdAt":"12:00","likes":[],"hashTags":[]}`,
		"", http.StatusBadRequest)

	if env.posts.Len() != 20 {
		t.Fatalf("invalid adds must not change the store, got %d posts", env.posts.Len())
	}
	if n := len(env.kafka.Written()); n != 0 {
		t.Fatalf("rejected mutations must not be published, got %d messages", n)
	}
}

func TestCreatePost_Duplicate(t *testing.T) {
	env := setupTestServer(t)
	body := strings.Replace(newPostBody, `"id":"-1"`, `"id":"5"`, 1)
	sendRequest(t, http.MethodPost, env.ts.URL+"/posts", body, "", http.StatusConflict)
}

func TestEditPost_TooLongDescription(t *testing.T) {
	env := setupTestServer(t)
	before, _ := env.posts.Get("0")

	body, _ := json.Marshal(map[string]string{"description": strings.Repeat("x", 300)})
	sendRequest(t, http.MethodPatch, env.ts.URL+"/posts/0", string(body), "", http.StatusBadRequest)

	after, _ := env.posts.Get("0")
	if after.Description != before.Description {
		t.Fatalf("description changed after rejected edit")
	}
	sendRequest(t, http.MethodPatch, env.ts.URL+"/posts/invalid", `{"description":"x"}`, "", http.StatusNotFound)
}

func TestLikePost(t *testing.T) {
	env := setupTestServer(t)

	sendRequest(t, http.MethodPost, env.ts.URL+"/posts/2/like", "", "", http.StatusUnauthorized)

	token := makeTestToken(t, "nicky")
	liked := decodePost(t, sendRequest(t, http.MethodPost, env.ts.URL+"/posts/2/like", "", token, http.StatusOK))
	found := false
	for _, l := range liked.Likes {
		found = found || l == "nicky"
	}
	if !found {
		t.Fatalf("expected nicky in likes: %v", liked.Likes)
	}
	sendRequest(t, http.MethodPost, env.ts.URL+"/posts/nope/like", "", token, http.StatusNotFound)
}

func TestSession(t *testing.T) {
	env := setupTestServer(t)

	var resp map[string]any
	b := sendRequest(t, http.MethodPost, env.ts.URL+"/session", `{"username":"Author 1"}`, "", http.StatusOK)
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("expected a token, got %v", resp)
	}

	b = sendRequest(t, http.MethodGet, env.ts.URL+"/session", "", token, http.StatusOK)
	if !bytes.Contains(b, []byte(`"username":"Author 1"`)) || !bytes.Contains(b, []byte(`"signedIn":true`)) {
		t.Fatalf("unexpected session: %s", b)
	}

	b = sendRequest(t, http.MethodGet, env.ts.URL+"/session", "", "", http.StatusOK)
	if !bytes.Contains(b, []byte(`"signedIn":false`)) {
		t.Fatalf("expected signed-out session: %s", b)
	}

	sendRequest(t, http.MethodPost, env.ts.URL+"/session", `{"username":123}`, "", http.StatusBadRequest)
	sendRequest(t, http.MethodPost, env.ts.URL+"/session", `{"username":"  "}`, "", http.StatusBadRequest)
}

// a stale token does not block reads or edits; liking still needs a valid session
func TestStaleTokenIsAnonymous(t *testing.T) {
	env := setupTestServer(t)
	expired, err := middleware.IssueToken(testSecret, "Author 1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	for _, token := range []string{"garbage", expired} {
		posts := decodePosts(t, sendRequest(t, http.MethodGet, env.ts.URL+"/posts", "", token, http.StatusOK))
		if len(posts) != 10 {
			t.Fatalf("expected a full page for a stale token, got %d", len(posts))
		}
		sendRequest(t, http.MethodPatch, env.ts.URL+"/posts/1", `{"description":"still editable"}`, token, http.StatusOK)

		b := sendRequest(t, http.MethodGet, env.ts.URL+"/session", "", token, http.StatusOK)
		if !bytes.Contains(b, []byte(`"signedIn":false`)) {
			t.Fatalf("expected signed-out session for a stale token: %s", b)
		}
		sendRequest(t, http.MethodPost, env.ts.URL+"/posts/1/like", "", token, http.StatusUnauthorized)
	}
}

func TestHistory_JournalDisabledOrFailing(t *testing.T) {
	posts := store.NewMemory(store.Ascending, store.Generate(3, rand.New(rand.NewSource(1))))

	disabled := httptest.NewServer(New(posts, nil, nil, Options{JWTSecret: testSecret}).Router(nil))
	defer disabled.Close()
	sendRequest(t, http.MethodGet, disabled.URL+"/posts/1/history", "", "", http.StatusServiceUnavailable)
	// mutations still work without a journal
	sendRequest(t, http.MethodDelete, disabled.URL+"/posts/1", "", "", http.StatusNoContent)

	failing := httptest.NewServer(New(posts, &store.MockJournalFail{}, nil, Options{JWTSecret: testSecret}).Router(nil))
	defer failing.Close()
	sendRequest(t, http.MethodGet, failing.URL+"/posts/0/history", "", "", http.StatusInternalServerError)
}

// Kafka write error must not undo a committed mutation
func TestKafkaWriteErrorKeepsMutation(t *testing.T) {
	posts := store.NewMemory(store.Ascending, store.Generate(3, rand.New(rand.NewSource(1))))
	s := New(posts, store.NewMockJournal(), appkafka.NewPublisher(&appkafka.MockKafkaFail{}), Options{JWTSecret: testSecret})
	ts := httptest.NewServer(s.Router(nil))
	defer ts.Close()

	sendRequest(t, http.MethodDelete, ts.URL+"/posts/0", "", "", http.StatusNoContent)
	if posts.Len() != 2 {
		t.Fatalf("expected removal to stick, got %d posts", posts.Len())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/posts/1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS headers on preflight response")
	}
}

// removeAfterAdd deletes every post right after it is added, so anything
// the handler reads back from the store afterwards finds nothing.
type removeAfterAdd struct {
	*store.Memory
}

func (s removeAfterAdd) Add(candidate models.Record) (models.Post, error) {
	p, err := s.Memory.Add(candidate)
	if err == nil {
		_ = s.Memory.Remove(p.ID)
	}
	return p, err
}

// the response and the published event carry the post as committed, even
// when a concurrent request changes it before the handler replies
func TestCreatePost_RespondsWithCommittedPost(t *testing.T) {
	posts := store.NewMemory(store.Ascending, store.Generate(3, rand.New(rand.NewSource(1))))
	journal := store.NewMockJournal()
	s := New(removeAfterAdd{posts}, journal, appkafka.NewPublisher(&appkafka.MockKafka{Journal: journal}), Options{JWTSecret: testSecret})
	ts := httptest.NewServer(s.Router(nil))
	defer ts.Close()

	created := decodePost(t, sendRequest(t, http.MethodPost, ts.URL+"/posts", newPostBody, "", http.StatusCreated))
	want := models.Post{
		ID:          "-1",
		Description: "d",
		CreatedAt:   time.Date(2018, 3, 6, 12, 0, 0, 0, time.UTC),
		Author:      "A",
		PhotoLink:   "http://x",
		Likes:       []string{},
		HashTags:    []string{"life"},
	}
	if created.ID != want.ID || created.Description != want.Description || created.Author != want.Author ||
		created.PhotoLink != want.PhotoLink || !created.CreatedAt.Equal(want.CreatedAt) ||
		len(created.HashTags) != 1 || created.HashTags[0] != "life" {
		t.Fatalf("expected submitted post in response, got %+v", created)
	}

	history, _ := journal.History("-1", 10)
	if len(history) != 1 || history[0].Post == nil || history[0].Post.ID != "-1" || history[0].Post.Description != "d" {
		t.Fatalf("expected journaled snapshot of the submitted post, got %+v", history)
	}
}

func TestEditPost_RespondsWithMergedPost(t *testing.T) {
	env := setupTestServer(t)
	before, _ := env.posts.Get("3")

	edited := decodePost(t, sendRequest(t, http.MethodPatch, env.ts.URL+"/posts/3",
		`{"description":"edited","hashTags":["roof"]}`, "", http.StatusOK))
	if edited.ID != "3" || edited.Description != "edited" || edited.Author != before.Author ||
		len(edited.HashTags) != 1 || edited.HashTags[0] != "roof" {
		t.Fatalf("unexpected edited post: %+v", edited)
	}

	history, _ := env.journal.History("3", 1)
	if len(history) != 1 || history[0].Type != models.EventPostEdited || history[0].Post.Description != "edited" {
		t.Fatalf("expected journaled edit snapshot, got %+v", history)
	}
}
