// Package social verifies that a launch was triggered by a post its caller
// actually authored on the agent social platform.
package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

// Platform is the social platform as seen by the pipeline
type Platform interface {
	// ResolveIdentity maps an agent API credential to the agent it belongs to
	ResolveIdentity(ctx context.Context, credential string) (launch.Identity, error)
	// GetPost fetches a post by id
	GetPost(ctx context.Context, postID string) (launch.Post, error)
}

// HTTPPlatform talks to the platform's REST API
type HTTPPlatform struct {
	baseURL string
	pool    *httpclient.ClientPool
}

// NewHTTPPlatform creates a platform client rooted at baseURL (e.g. https://host/api/v1)
func NewHTTPPlatform(baseURL string, pool *httpclient.ClientPool) *HTTPPlatform {
	return &HTTPPlatform{
		baseURL: strings.TrimRight(baseURL, "/"),
		pool:    pool,
	}
}

type agentEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Agent   *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
}

type postEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Post    *struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Author  *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"author"`
	} `json:"post"`
}

func (p *HTTPPlatform) ResolveIdentity(ctx context.Context, credential string) (launch.Identity, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	var env agentEnvelope
	err := p.pool.DoJSON(ctx, http.MethodGet, p.baseURL+"/agents/me", header, nil, &env)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
			return launch.Identity{}, launch.Wrap(launch.KindAuthentication, err, "credential rejected by platform")
		}
		return launch.Identity{}, launch.Wrap(launch.KindPlatform, err, "resolve identity")
	}

	if !env.Success {
		return launch.Identity{}, launch.Errorf(launch.KindAuthentication, "platform refused credential: %s", env.Error)
	}
	if env.Agent == nil || env.Agent.ID == "" {
		return launch.Identity{}, launch.Errorf(launch.KindPlatform, "identity response has no agent id")
	}
	return launch.Identity{ID: env.Agent.ID, Name: env.Agent.Name}, nil
}

func (p *HTTPPlatform) GetPost(ctx context.Context, postID string) (launch.Post, error) {
	var env postEnvelope
	err := p.pool.DoJSON(ctx, http.MethodGet, p.baseURL+"/posts/"+url.PathEscape(postID), nil, nil, &env)
	if err != nil {
		if httpclient.IsStatus(err, http.StatusNotFound) {
			return launch.Post{}, launch.Errorf(launch.KindNotFound, "post %s not found", postID)
		}
		return launch.Post{}, launch.Wrap(launch.KindPlatform, err, "fetch post")
	}

	if !env.Success || env.Post == nil {
		return launch.Post{}, launch.Errorf(launch.KindNotFound, "post %s not found", postID)
	}
	if err := validatePost(env); err != nil {
		return launch.Post{}, launch.Wrap(launch.KindPlatform, err, "malformed post response")
	}
	return launch.Post{
		ID:      env.Post.ID,
		Content: env.Post.Content,
		Author:  launch.Identity{ID: env.Post.Author.ID, Name: env.Post.Author.Name},
	}, nil
}

func validatePost(env postEnvelope) error {
	switch {
	case env.Post.ID == "":
		return errors.New("post id missing")
	case env.Post.Author == nil || env.Post.Author.ID == "":
		return fmt.Errorf("post %s has no author id", env.Post.ID)
	}
	return nil
}
