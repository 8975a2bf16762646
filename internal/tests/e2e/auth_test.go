//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/nexocrm/authsvc/config"
	"github.com/nexocrm/authsvc/internal/db"
	"github.com/nexocrm/authsvc/internal/server"
)

const (
	serverPort = 18080
	password   = "testpass123!"
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d", "postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := db.MigrateUp(db.PostgresURL(config.LoadConfig().Database)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestUserLifecycle(t *testing.T) {
	suffix := time.Now().UnixNano()
	rootEmail := fmt.Sprintf("root_%d@example.com", suffix)
	memberEmail := fmt.Sprintf("member_%d@example.com", suffix)

	status, _ := doJSON(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"firstName": "Root",
		"lastName":  "Admin",
		"email":     strings.ToUpper(rootEmail),
		"password":  password,
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d", status)
	}

	if err := grantRole(rootEmail, "Superadmin"); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	rootToken := login(t, rootEmail)

	status, body := doJSON(t, http.MethodPost, "/api/users", rootToken, map[string]any{
		"firstName": "Mia",
		"lastName":  "Member",
		"email":     memberEmail,
		"password":  password,
		"roles":     []string{"User"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create user status %d: %s", status, body)
	}
	var created struct {
		User struct {
			ID    int      `json:"id"`
			Roles []string `json:"roles"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode created user: %v", err)
	}
	if created.User.ID == 0 || len(created.User.Roles) != 1 || created.User.Roles[0] != "User" {
		t.Fatalf("unexpected created user: %s", body)
	}

	status, _ = doJSON(t, http.MethodPost, "/api/users", rootToken, map[string]any{
		"firstName": "Dup",
		"lastName":  "Licate",
		"email":     memberEmail,
		"password":  password,
		"roles":     []string{"User"},
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate create status %d, want 409", status)
	}

	memberToken := login(t, memberEmail)
	status, body = doJSON(t, http.MethodGet, "/api/users/me", memberToken, nil)
	if status != http.StatusOK || !strings.Contains(string(body), memberEmail) {
		t.Fatalf("me status %d: %s", status, body)
	}
	if status, _ = doJSON(t, http.MethodGet, "/api/users", memberToken, nil); status != http.StatusForbidden {
		t.Fatalf("member list status %d, want 403", status)
	}

	path := fmt.Sprintf("/api/users/%d", created.User.ID)
	status, body = doJSON(t, http.MethodPut, path, rootToken, map[string]any{
		"firstName": "Mia",
		"lastName":  "Manager",
		"email":     memberEmail,
		"roles":     []string{"Admin", "User"},
	})
	if status != http.StatusOK || !strings.Contains(string(body), `"Admin"`) {
		t.Fatalf("update status %d: %s", status, body)
	}

	status, body = doJSON(t, http.MethodDelete, path, rootToken, nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"is_active":false`) {
		t.Fatalf("toggle status %d: %s", status, body)
	}

	status, body = doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    memberEmail,
		"password": password,
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("inactive login status %d: %s", status, body)
	}

	status, body = doJSON(t, http.MethodGet, "/api/roles", rootToken, nil)
	if status != http.StatusOK || !strings.Contains(string(body), "Superadmin") {
		t.Fatalf("roles status %d: %s", status, body)
	}
}

func login(t *testing.T, email string) string {
	t.Helper()

	status, body := doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, body)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if parsed.Token == "" {
		t.Fatalf("missing token in login response")
	}
	return parsed.Token
}

func doJSON(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func grantRole(email, role string) error {
	conn, err := sql.Open("postgres", db.PostgresURL(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT u.id, r.id FROM users u, roles r
		WHERE u.email = $1 AND r.name = $2
		ON CONFLICT DO NOTHING`, email, role)
	return err
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sql.Open("postgres", db.PostgresURL(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status %d", resp.StatusCode)
		case <-ticker.C:
		}
	}
}

func setTestEnv() {
	_ = os.Setenv("ENV", "test")
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("BCRYPT_COST", "4")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "crm")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "crm_auth")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("MQ_BACKEND", "")
	_ = os.Setenv("STORAGE_BACKEND", "")
}

func startServer(ctx context.Context) (*server.Server, error) {
	srv, err := server.New(ctx, config.LoadConfig())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
