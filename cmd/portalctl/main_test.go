package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/exagonbr/Portal-sub023/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()

	ok := func(w http.ResponseWriter, data interface{}) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": data})
	}
	user := map[string]interface{}{
		"id":              "u-7",
		"email":           "teacher@sabercon.edu.br",
		"role":            "TEACHER",
		"permissions":     []string{"classes.read"},
		"institutionName": "Sabercon",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]interface{}{
			"accessToken":      "eyJhbGciOiJIUzI1NiJ9.access.sig",
			"refreshToken":     "eyJhbGciOiJIUzI1NiJ9.refresh.sig",
			"sessionId":        "s-1",
			"expiresAt":        time.Now().Add(time.Hour),
			"refreshExpiresAt": time.Now().Add(24 * time.Hour),
			"user":             user,
		})
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]interface{}{"user": user})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]string{"message": "Logged out successfully"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	srv := newGateway(t)
	file := filepath.Join(t.TempDir(), "session.json")
	base := []string{"-gateway", srv.URL, "-session-file", file}

	exec := func(stdin string, args ...string) (string, error) {
		var out bytes.Buffer
		err := run(ctx, append(append([]string{}, base...), args...), strings.NewReader(stdin), &out)
		return out.String(), err
	}

	out, err := exec("correct-horse\n", "login", "teacher@sabercon.edu.br")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as teacher@sabercon.edu.br (TEACHER)")

	out, err = exec("", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "session s-1")

	out, err = exec("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "u-7 teacher@sabercon.edu.br TEACHER")
	assert.Contains(t, out, "permissions: classes.read")
	assert.Contains(t, out, "institution: Sabercon")

	out, err = exec("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	_, err = exec("", "status")
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRunWithRedisCopy(t *testing.T) {
	ctx := context.Background()
	srv := newGateway(t)
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	args := func(file string, cmd ...string) []string {
		return append([]string{
			"-gateway", srv.URL,
			"-session-file", filepath.Join(dir, file),
			"-redis-url", "redis://" + mr.Addr() + "/0",
			"-client-id", "laptop",
			"-password", "correct-horse",
		}, cmd...)
	}

	var out bytes.Buffer
	require.NoError(t, run(ctx, args("first.json", "login", "teacher@sabercon.edu.br"), strings.NewReader(""), &out))
	assert.True(t, mr.Exists("session:client:laptop"))

	// A fresh machine-local file still finds the session through Redis
	out.Reset()
	require.NoError(t, run(ctx, args("second.json", "status"), strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "session s-1")
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "session.json")

	assert.ErrorIs(t, run(ctx, []string{"-session-file", file}, strings.NewReader(""), &out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"-session-file", file, "dance"}, strings.NewReader(""), &out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"-session-file", file, "login"}, strings.NewReader(""), &out), errUsage)
}
