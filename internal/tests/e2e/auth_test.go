//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/eims-app/apiserver/config"
	"github.com/eims-app/apiserver/internal/db"
	"github.com/eims-app/apiserver/internal/server"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	baseURL string
	conn    *sqlx.DB
	inbox   = &sendGridInbox{}
)

var resetLink = regexp.MustCompile(`/resetPassword/([0-9a-f]{64})`)

// sendGridInbox records the bodies posted to the fake SendGrid endpoint.
type sendGridInbox struct {
	mu       sync.Mutex
	messages []string
}

func (i *sendGridInbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	i.mu.Lock()
	i.messages = append(i.messages, buf.String())
	i.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (i *sendGridInbox) resetToken(t *testing.T, email string) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	for n := len(i.messages) - 1; n >= 0; n-- {
		if !bytes.Contains([]byte(i.messages[n]), []byte(email)) {
			continue
		}
		if m := resetLink.FindStringSubmatch(i.messages[n]); m != nil {
			return m[1]
		}
	}
	t.Fatalf("no reset email for %s", email)
	return ""
}

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("eims_test"),
		postgres.WithUsername("eims"),
		postgres.WithPassword("eims_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		return 1
	}
	defer func() {
		_ = pg.Terminate(context.Background())
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres host: %v\n", err)
		return 1
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres port: %v\n", err)
		return 1
	}

	sendgrid := httptest.NewServer(inbox)
	defer sendgrid.Close()

	cfg := config.LoadConfig()
	cfg.Database = config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "eims",
		Password: "eims_test_password",
		DBName:   "eims_test",
	}
	cfg.Auth.JWTSecret = "e2e-secret"
	cfg.Auth.BcryptCost = 4
	cfg.Mail.Transport = "sendgrid"
	cfg.Mail.SendGrid.APIKey = "test-key"
	cfg.Mail.SendGrid.Endpoint = sendgrid.URL
	cfg.Storage.Backend = ""
	cfg.Redis.Addr = ""

	if err := db.MigrateUp(db.DSN(cfg.Database)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return 1
	}

	conn, err = sqlx.Connect("postgres", db.DSN(cfg.Database))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		return 1
	}
	defer conn.Close()

	srv, err := server.New(ctx, cfg, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		return 1
	}
	api := httptest.NewServer(srv.Router())
	defer api.Close()
	defer func() {
		_ = srv.Shutdown(context.Background())
	}()

	baseURL = api.URL
	return m.Run()
}

type envelope struct {
	Status  string          `json:"status"`
	Token   string          `json:"token"`
	Message string          `json:"message"`
	Results *int            `json:"results"`
	Data    json.RawMessage `json:"data"`
}

type userData struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

func call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func signup(t *testing.T, email string) (string, userData) {
	t.Helper()
	status, env := call(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name":            "E2E User",
		"email":           email,
		"mobileNo":        "0123456789",
		"password":        "pass1234",
		"passwordConfirm": "pass1234",
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var data userData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return env.Token, data
}

func uniqueEmail(prefix string) string {
	return fmt.Sprintf("%s_%d@example.com", prefix, time.Now().UnixNano())
}

func TestSignupLoginAndProtect(t *testing.T) {
	email := uniqueEmail("login")
	token, data := signup(t, email)
	assert.Equal(t, "user", data.User.Role)

	status, env := call(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	var me userData
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, data.User.ID, me.User.ID)

	status, _ = call(t, http.MethodPost, "/api/v1/users/signup", "", map[string]string{
		"name": "Dup", "email": email, "mobileNo": "1", "password": "pass1234", "passwordConfirm": "pass1234",
	})
	assert.Equal(t, http.StatusConflict, status)

	status, env = call(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": email, "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Incorrect email or password", env.Message)

	status, env = call(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": email, "password": "pass1234"})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, env.Token)

	status, _ = call(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPasswordResetFlow(t *testing.T) {
	email := uniqueEmail("reset")
	oldToken, _ := signup(t, email)

	status, env := call(t, http.MethodPost, "/api/v1/users/forgotPassword", "", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, status, env.Message)
	resetToken := inbox.resetToken(t, email)

	var stored *string
	require.NoError(t, conn.Get(&stored, `SELECT password_reset_token FROM users WHERE LOWER(email) = LOWER($1)`, email))
	require.NotNil(t, stored)
	assert.NotEqual(t, resetToken, *stored)

	// Token issue times have second resolution; step past the reset skew.
	time.Sleep(2100 * time.Millisecond)

	body := map[string]string{"password": "newpass99", "passwordConfirm": "newpass99"}
	status, env = call(t, http.MethodPatch, "/api/v1/users/resetPassword/"+resetToken, "", body)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.NotEmpty(t, env.Token)

	status, env = call(t, http.MethodPatch, "/api/v1/users/resetPassword/"+resetToken, "", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Token is invalid or has expired", env.Message)

	status, _ = call(t, http.MethodGet, "/api/v1/users/me", oldToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": email, "password": "newpass99"})
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRoutes(t *testing.T) {
	adminEmail := uniqueEmail("admin")
	userToken, _ := signup(t, adminEmail)

	status, _ := call(t, http.MethodGet, "/api/v1/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	_, err := conn.Exec(`UPDATE users SET role = 'admin' WHERE LOWER(email) = LOWER($1)`, adminEmail)
	require.NoError(t, err)

	_, target := signup(t, uniqueEmail("target"))

	status, env := call(t, http.MethodGet, "/api/v1/users?role=user", userToken, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	require.NotNil(t, env.Results)
	assert.GreaterOrEqual(t, *env.Results, 1)

	status, env = call(t, http.MethodPatch, "/api/v1/users/"+target.User.ID, userToken, map[string]string{"role": "operator"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var updated userData
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "operator", updated.User.Role)

	status, _ = call(t, http.MethodDelete, "/api/v1/users/"+target.User.ID, userToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = call(t, http.MethodGet, "/api/v1/users/"+target.User.ID, userToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteMeDeactivates(t *testing.T) {
	email := uniqueEmail("leaver")
	token, _ := signup(t, email)

	status, _ := call(t, http.MethodDelete, "/api/v1/users/deleteMe", token, nil)
	require.Equal(t, http.StatusNoContent, status)

	var active bool
	require.NoError(t, conn.Get(&active, `SELECT active FROM users WHERE LOWER(email) = LOWER($1)`, email))
	assert.False(t, active)

	status, _ = call(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": email, "password": "pass1234"})
	assert.Equal(t, http.StatusUnauthorized, status)
}
