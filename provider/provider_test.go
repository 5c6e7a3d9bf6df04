package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubValidator struct {
	name Name
}

func (s stubValidator) Name() Name { return s.name }

func (s stubValidator) Validate(context.Context, string) (*ExternalProfile, error) {
	return &ExternalProfile{ExternalID: "ext-1"}, nil
}

func TestNameValid(t *testing.T) {
	for _, n := range []Name{Google, Facebook, Twitter, GitHub, Apple, LinkedIn, Microsoft, Discord} {
		if !n.Valid() {
			t.Fatalf("%q should be valid", n)
		}
	}
	for _, n := range []Name{"", "myspace", "GOOGLE"} {
		if n.Valid() {
			t.Fatalf("%q should not be valid", n)
		}
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(stubValidator{name: Google}, stubValidator{name: GitHub})
	if err != nil {
		t.Fatalf("registry build failed: %v", err)
	}
	if !r.Has(Google) || !r.Has(GitHub) {
		t.Fatal("configured providers missing")
	}
	if r.Has(Apple) {
		t.Fatal("unconfigured provider reported present")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(stubValidator{name: Google}, stubValidator{name: Google}); err == nil {
		t.Fatal("expected a duplicate error")
	}
}

func TestNewRegistryRejectsUnknownName(t *testing.T) {
	_, err := NewRegistry(stubValidator{name: "myspace"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestRegistryValidateDispatch(t *testing.T) {
	r, err := NewRegistry(stubValidator{name: Google})
	if err != nil {
		t.Fatalf("registry build failed: %v", err)
	}

	profile, err := r.Validate(context.Background(), Google, "token")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if profile.ExternalID != "ext-1" {
		t.Fatalf("profile = %+v", profile)
	}

	if _, err := r.Validate(context.Background(), GitHub, "token"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestBearerValidatorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("X-GitHub-Api-Version"); got == "" {
			t.Error("expected the API version header")
		}
		w.Write([]byte(`{"id":42,"login":"octocat","email":"octo@example.com","avatar_url":"https://a/img.png"}`))
	}))
	defer srv.Close()

	v := NewGitHub(time.Second)
	v.endpoint = srv.URL

	profile, err := v.Validate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if profile.ExternalID != "42" || profile.DisplayName != "octocat" || profile.Email != "octo@example.com" {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestBearerValidatorRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewGitHub(time.Second)
	v.endpoint = srv.URL

	_, err := v.Validate(context.Background(), "bad")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestBearerValidatorMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"login":"octocat"}`))
	}))
	defer srv.Close()

	v := NewGitHub(time.Second)
	v.endpoint = srv.URL

	_, err := v.Validate(context.Background(), "tok")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for a profile without an id", err)
	}
}

func TestBearerValidatorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	v := NewDiscord(time.Second)
	v.endpoint = srv.URL

	_, err := v.Validate(context.Background(), "tok")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestDecodeDiscord(t *testing.T) {
	profile, err := decodeDiscord([]byte(`{
		"id":"123","username":"octo","global_name":"Octo Cat",
		"email":"octo@example.com","verified":true,"avatar":"abc"
	}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if profile.ExternalID != "123" || profile.DisplayName != "Octo Cat" {
		t.Fatalf("profile = %+v", profile)
	}
	if !profile.EmailVerified {
		t.Fatal("verified flag lost")
	}
	if profile.AvatarURL != "https://cdn.discordapp.com/avatars/123/abc.png" {
		t.Fatalf("avatar = %q", profile.AvatarURL)
	}
}

func TestDecodeFacebook(t *testing.T) {
	profile, err := decodeFacebook([]byte(`{
		"id":"987","name":"Octo Cat","email":"octo@example.com",
		"picture":{"data":{"url":"https://fb/img.png"}}
	}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if profile.ExternalID != "987" || profile.AvatarURL != "https://fb/img.png" {
		t.Fatalf("profile = %+v", profile)
	}
}

func TestDecodeTwitter(t *testing.T) {
	profile, err := decodeTwitter([]byte(`{"data":{"id":"555","username":"octo","profile_image_url":"https://x/img.png"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if profile.ExternalID != "555" || profile.DisplayName != "octo" {
		t.Fatalf("profile = %+v", profile)
	}
	if profile.Email != "" {
		t.Fatal("the v2 users endpoint never returns an email")
	}
}
