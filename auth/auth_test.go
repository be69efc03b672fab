package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"catcare.com/client/apiclient"
	"catcare.com/client/session"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refreshCookie = "refresh_token"

type fakeAuthBackend struct {
	mu          sync.Mutex
	accessToken string
	refreshes   int
	logoutFails bool
	signups     []credentials
}

func (b *fakeAuthBackend) routes(t *testing.T) http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, r.Header.Get("Authorization"))
		if body.Password != "meow" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"BAD_CREDENTIALS","message":"wrong password"}}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "r1", Path: "/auth"})
		b.mu.Lock()
		token := b.accessToken
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"data":{"accessToken":"` + token + `"}}`))
	})
	r.Post("/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		b.mu.Lock()
		b.signups = append(b.signups, body)
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"data":"created"}`))
	})
	r.Post("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(refreshCookie)
		if err != nil || cookie.Value != "r1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"NO_REFRESH_TOKEN","message":"log in again"}}`))
			return
		}
		b.mu.Lock()
		b.refreshes++
		b.accessToken = "rotated"
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"data":{"accessToken":"rotated"}}`))
	})
	r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"TOKEN_EXPIRED","message":"expired"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"email":"cat@owner.com","name":"Nabi"}}`))
	})
	r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		fails := b.logoutFails
		b.mu.Unlock()
		if fails {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL","message":"db down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":"bye"}`))
	})
	return r
}

func (b *fakeAuthBackend) authorized(r *http.Request) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+b.accessToken
}

func newTestClient(t *testing.T, backend *fakeAuthBackend) (*Client, *session.Session) {
	server := httptest.NewServer(backend.routes(t))
	t.Cleanup(server.Close)
	s := session.New()
	api, err := apiclient.New(apiclient.Config{BaseURL: server.URL}, apiclient.WithSession(s))
	require.NoError(t, err)
	return NewClient(api), s
}

func TestLogin(t *testing.T) {
	t.Run("Stores the access token", func(t *testing.T) {
		client, s := newTestClient(t, &fakeAuthBackend{accessToken: "t1"})
		require.NoError(t, client.Login(context.Background(), "cat@owner.com", "meow"))
		require.Equal(t, "t1", s.Token())

		profile, err := client.Me(context.Background())
		require.NoError(t, err)
		require.Equal(t, &Profile{Email: "cat@owner.com", Name: "Nabi"}, profile)
	})
	t.Run("Wrong password is an auth error", func(t *testing.T) {
		client, s := newTestClient(t, &fakeAuthBackend{accessToken: "t1"})
		err := client.Login(context.Background(), "cat@owner.com", "woof")
		var authErr *apiclient.AuthError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, "BAD_CREDENTIALS", authErr.Code)
		require.Empty(t, s.Token())
	})
	t.Run("Missing credentials never reach the backend", func(t *testing.T) {
		client, _ := newTestClient(t, &fakeAuthBackend{})
		var validationErr *apiclient.ValidationError
		require.ErrorAs(t, client.Login(context.Background(), "", "meow"), &validationErr)
		require.Equal(t, "email", validationErr.Field)
		require.ErrorAs(t, client.Login(context.Background(), "cat@owner.com", ""), &validationErr)
		require.Equal(t, "password", validationErr.Field)
	})
}

func TestRefreshThroughCookie(t *testing.T) {
	backend := &fakeAuthBackend{accessToken: "t1"}
	client, s := newTestClient(t, backend)
	require.NoError(t, client.Login(context.Background(), "cat@owner.com", "meow"))

	backend.mu.Lock()
	backend.accessToken = "server-side-rotation"
	backend.mu.Unlock()

	// the first /auth/me gets a 401, the refresh rides on the login cookie
	_, err := client.Me(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rotated", s.Token())
	require.Equal(t, 1, s.Refreshes())
}

func TestSignup(t *testing.T) {
	backend := &fakeAuthBackend{}
	client, _ := newTestClient(t, backend)

	require.NoError(t, client.Signup(context.Background(), "cat@owner.com", "meow", "Nabi"))
	require.Equal(t, []credentials{{Email: "cat@owner.com", Password: "meow", Name: "Nabi"}}, backend.signups)

	var validationErr *apiclient.ValidationError
	require.ErrorAs(t, client.Signup(context.Background(), "cat@owner.com", "meow", " "), &validationErr)
	require.Equal(t, "name", validationErr.Field)
}

func TestLogout(t *testing.T) {
	t.Run("Clears the token", func(t *testing.T) {
		client, s := newTestClient(t, &fakeAuthBackend{accessToken: "t1"})
		require.NoError(t, client.Login(context.Background(), "cat@owner.com", "meow"))
		require.NoError(t, client.Logout(context.Background()))
		require.Empty(t, s.Token())
	})
	t.Run("Clears the token when the backend fails", func(t *testing.T) {
		backend := &fakeAuthBackend{accessToken: "t1", logoutFails: true}
		client, s := newTestClient(t, backend)
		require.NoError(t, client.Login(context.Background(), "cat@owner.com", "meow"))

		err := client.Logout(context.Background())
		var serverErr *apiclient.ServerError
		require.ErrorAs(t, err, &serverErr)
		require.Equal(t, "db down", serverErr.Message)
		require.Empty(t, s.Token())
	})
}
