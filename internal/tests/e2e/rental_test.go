//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/leasehold/apiserver/config"
	"github.com/leasehold/apiserver/internal/db"
	"github.com/leasehold/apiserver/internal/server"
)

const publicBaseURL = "http://rentals.test"

var baseURL string

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("rentals_test"),
		postgres.WithUsername("rentals"),
		postgres.WithPassword("rentals"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read connection string: %v\n", err)
		return 1
	}
	if err := db.MigrateUp(dsn); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return 1
	}

	cfg := config.Config{
		Env:            "test",
		PublicBaseURL:  publicBaseURL,
		RequestTimeout: 30 * time.Second,
		MaxUploadBytes: 1 << 20,
		Auth: config.AuthConfig{
			JWTSecret:   "e2e-secret-e2e-secret-e2e-secret-0",
			TokenTTL:    time.Hour,
			Issuer:      "leasehold-e2e",
			BcryptCost:  4,
			HashWorkers: 4,
		},
		Database: config.DatabaseConfig{URL: dsn},
		Storage:  config.StorageConfig{Backend: "bucket", BucketURL: "mem://"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build server: %v\n", err)
		return 1
	}
	ts := httptest.NewServer(srv.Router())
	baseURL = ts.URL

	code := m.Run()

	ts.Close()
	_ = srv.Shutdown(context.Background())
	return code
}

func TestAuthFlow(t *testing.T) {
	token1 := postAuth(t, "/auth/register", `{"email":"flow@x.com","name":"Flow","password":"Secret1!"}`, http.StatusOK)
	token2 := postAuth(t, "/auth/login", `{"email":"FLOW@x.com","password":"Secret1!"}`, http.StatusOK)

	me1 := whoami(t, token1)
	me2 := whoami(t, token2)
	assert.Equal(t, me1["id"], me2["id"])
	assert.Equal(t, "flow@x.com", me1["email"])
	assert.NotContains(t, me1, "password_hash")

	postAuth(t, "/auth/register", `{"email":"Flow@X.com","name":"Dup","password":"Secret1!"}`, http.StatusBadRequest)
	postAuth(t, "/auth/login", `{"email":"flow@x.com","password":"wrong"}`, http.StatusUnauthorized)
	postAuth(t, "/auth/login", `{"email":"ghost@x.com","password":"Secret1!"}`, http.StatusUnauthorized)

	resp := get(t, "/auth/me", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRentalLifecycle(t *testing.T) {
	tokenA := postAuth(t, "/auth/register", `{"email":"owner@x.com","name":"Owner","password":"Secret1!"}`, http.StatusOK)
	tokenB := postAuth(t, "/auth/register", `{"email":"other@x.com","name":"Other","password":"Secret1!"}`, http.StatusOK)

	resp := sendForm(t, http.MethodPost, "/rentals", tokenA, loftFields("Loft"), "image/png", pngBytes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rental created !", decodeBody[map[string]string](t, resp)["message"])

	loft := findRental(t, "Loft")
	id := int(loft["id"].(float64))
	assert.Equal(t, float64(50), loft["surface"])
	assert.Equal(t, float64(1200), loft["price"])

	picture := loft["picture"].(string)
	require.True(t, strings.HasPrefix(picture, publicBaseURL+"/images/"), picture)
	image := get(t, strings.TrimPrefix(picture, publicBaseURL), "")
	require.Equal(t, http.StatusOK, image.StatusCode)
	assert.Equal(t, "image/png", image.Header.Get("Content-Type"))
	body, _ := io.ReadAll(image.Body)
	assert.Equal(t, pngBytes, body)

	path := fmt.Sprintf("/rentals/%d", id)
	resp = sendForm(t, http.MethodPut, path, tokenB, loftFields("Loft2"), "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, loft, getRental(t, id))

	resp = sendForm(t, http.MethodPut, path, tokenA, loftFields("Loft2"), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rental updated !", decodeBody[map[string]string](t, resp)["message"])

	updated := getRental(t, id)
	assert.Equal(t, "Loft2", updated["name"])
	assert.Equal(t, picture, updated["picture"])

	assert.Equal(t, http.StatusNotFound, get(t, "/rentals/999999", "").StatusCode)
}

func TestNonImageUploadLeavesNoRecord(t *testing.T) {
	token := postAuth(t, "/auth/register", `{"email":"texter@x.com","name":"T","password":"Secret1!"}`, http.StatusOK)

	resp := sendForm(t, http.MethodPost, "/rentals", token, loftFields("Textual"), "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, rental := range listRentals(t) {
		assert.NotEqual(t, "Textual", rental["name"])
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	token := postAuth(t, "/auth/register", `{"email":"racer@x.com","name":"R","password":"Secret1!"}`, http.StatusOK)
	resp := sendForm(t, http.MethodPost, "/rentals", token, loftFields("Race"), "image/png", pngBytes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := int(findRental(t, "Race")["id"].(float64))

	const writers = 8
	type result struct {
		writer int
		status int
		body   string
	}
	results := make(chan result, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fields := map[string]string{
				"name":        fmt.Sprintf("Race-%d", i),
				"surface":     "50.0",
				"price":       "1200.00",
				"description": fmt.Sprintf("writer %d", i),
			}
			resp := sendForm(t, http.MethodPut, fmt.Sprintf("/rentals/%d", id), token, fields, "", nil)
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(resp.Body)
			}
			results <- result{writer: i, status: resp.StatusCode, body: string(body)}
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := map[int]bool{}
	for r := range results {
		if r.status == http.StatusOK {
			succeeded[r.writer] = true
			continue
		}
		assert.Equal(t, http.StatusBadRequest, r.status, "writer %d", r.writer)
		assert.JSONEq(t, `{"error":"conflict"}`, r.body, "writer %d", r.writer)
	}
	require.NotEmpty(t, succeeded)

	// The stored record is exactly one acknowledged writer's payload.
	stored := getRental(t, id)
	var winner int
	_, err := fmt.Sscanf(stored["name"].(string), "Race-%d", &winner)
	require.NoError(t, err, stored["name"])
	assert.True(t, succeeded[winner], "stored writer %d was not acknowledged", winner)
	assert.Equal(t, fmt.Sprintf("writer %d", winner), stored["description"])
}

func loftFields(name string) map[string]string {
	return map[string]string{"name": name, "surface": "50.0", "price": "1200.00", "description": "Bright loft"}
}

func postAuth(t *testing.T, path, body string, wantStatus int) string {
	t.Helper()
	resp, err := http.Post(baseURL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if wantStatus != http.StatusOK {
		return ""
	}
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func whoami(t *testing.T, token string) map[string]any {
	t.Helper()
	resp := get(t, "/auth/me", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[map[string]any](t, resp)
}

func get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func sendForm(t *testing.T, method, path, token string, fields map[string]string, contentType string, picture []byte) *http.Response {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range fields {
		_ = mw.WriteField(key, value)
	}
	if picture != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="picture"; filename="picture"`)
		header.Set("Content-Type", contentType)
		part, _ := mw.CreatePart(header)
		_, _ = part.Write(picture)
	}
	_ = mw.Close()

	req, err := http.NewRequest(method, baseURL+path, &body)
	if err != nil {
		t.Error(err)
		return &http.Response{}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Error(err)
		return &http.Response{}
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func listRentals(t *testing.T) []map[string]any {
	t.Helper()
	resp := get(t, "/rentals", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[struct {
		Rentals []map[string]any `json:"rentals"`
	}](t, resp).Rentals
}

func findRental(t *testing.T, name string) map[string]any {
	t.Helper()
	for _, rental := range listRentals(t) {
		if rental["name"] == name {
			return rental
		}
	}
	t.Fatalf("rental %q not listed", name)
	return nil
}

func getRental(t *testing.T, id int) map[string]any {
	t.Helper()
	resp := get(t, fmt.Sprintf("/rentals/%d", id), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[map[string]any](t, resp)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
