package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxProfileBody = 1 << 20

// BearerValidator verifies opaque access tokens by fetching the
// provider's profile endpoint with the token attached. A non-2xx
// response means the token is invalid; a transport failure means the
// provider is unreachable.
type BearerValidator struct {
	name     Name
	endpoint string
	client   *http.Client
	headers  map[string]string
	decode   func([]byte) (*ExternalProfile, error)
}

// NewGitHub verifies GitHub access tokens.
func NewGitHub(timeout time.Duration) *BearerValidator {
	return &BearerValidator{
		name:     GitHub,
		endpoint: "https://api.github.com/user",
		client:   &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Accept":               "application/vnd.github+json",
			"X-GitHub-Api-Version": "2022-11-28",
		},
		decode: decodeGitHub,
	}
}

// NewFacebook verifies Facebook Graph access tokens.
func NewFacebook(timeout time.Duration) *BearerValidator {
	return &BearerValidator{
		name:     Facebook,
		endpoint: "https://graph.facebook.com/v19.0/me?fields=id,name,email,picture.type(large)",
		client:   &http.Client{Timeout: timeout},
		decode:   decodeFacebook,
	}
}

// NewDiscord verifies Discord OAuth access tokens.
func NewDiscord(timeout time.Duration) *BearerValidator {
	return &BearerValidator{
		name:     Discord,
		endpoint: "https://discord.com/api/v10/users/@me",
		client:   &http.Client{Timeout: timeout},
		decode:   decodeDiscord,
	}
}

// NewTwitter verifies Twitter (X) OAuth 2.0 access tokens. The v2 users
// endpoint never returns an email address.
func NewTwitter(timeout time.Duration) *BearerValidator {
	return &BearerValidator{
		name:     Twitter,
		endpoint: "https://api.twitter.com/2/users/me?user.fields=profile_image_url",
		client:   &http.Client{Timeout: timeout},
		decode:   decodeTwitter,
	}
}

func (v *BearerValidator) Name() Name { return v.name }

// Validate fetches the profile endpoint with the bearer token.
func (v *BearerValidator) Validate(ctx context.Context, rawToken string) (*ExternalProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnreachable, v.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+rawToken)
	for k, val := range v.headers {
		req.Header.Set(k, val)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnreachable, v.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnreachable, v.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %q: profile endpoint returned %d", ErrInvalidToken, v.name, resp.StatusCode)
	}

	profile, err := v.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidToken, v.name, err)
	}
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("%w: %q: profile missing id", ErrInvalidToken, v.name)
	}
	return profile, nil
}

func decodeGitHub(body []byte) (*ExternalProfile, error) {
	var raw struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	name := raw.Name
	if name == "" {
		name = raw.Login
	}
	return &ExternalProfile{
		ExternalID:  strconv.FormatInt(raw.ID, 10),
		Email:       raw.Email,
		DisplayName: name,
		AvatarURL:   raw.AvatarURL,
	}, nil
}

func decodeFacebook(body []byte) (*ExternalProfile, error) {
	var raw struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return &ExternalProfile{
		ExternalID:  raw.ID,
		Email:       raw.Email,
		DisplayName: raw.Name,
		AvatarURL:   raw.Picture.Data.URL,
	}, nil
}

func decodeDiscord(body []byte) (*ExternalProfile, error) {
	var raw struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Email      string `json:"email"`
		Verified   bool   `json:"verified"`
		Avatar     string `json:"avatar"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	name := raw.GlobalName
	if name == "" {
		name = raw.Username
	}
	avatar := ""
	if raw.Avatar != "" {
		avatar = "https://cdn.discordapp.com/avatars/" + raw.ID + "/" + raw.Avatar + ".png"
	}
	return &ExternalProfile{
		ExternalID:    raw.ID,
		Email:         raw.Email,
		EmailVerified: raw.Verified,
		DisplayName:   name,
		AvatarURL:     avatar,
	}, nil
}

func decodeTwitter(body []byte) (*ExternalProfile, error) {
	var raw struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	name := raw.Data.Name
	if name == "" {
		name = raw.Data.Username
	}
	return &ExternalProfile{
		ExternalID:  raw.Data.ID,
		DisplayName: name,
		AvatarURL:   raw.Data.ProfileImageURL,
	}, nil
}
