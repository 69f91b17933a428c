package social

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

// DefaultTrigger is the marker a post must carry to request a launch
const DefaultTrigger = "!launch"

// Verified is the output of a successful verification
type Verified struct {
	Agent   launch.Identity
	PostID  string
	Content string
}

// Verifier resolves the caller and checks the triggering post
type Verifier struct {
	platform Platform
	trigger  string
}

// NewVerifier creates a verifier; an empty trigger selects DefaultTrigger
func NewVerifier(platform Platform, trigger string) *Verifier {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	return &Verifier{platform: platform, trigger: trigger}
}

// Verify resolves credential to an agent, fetches postID and checks that the
// agent wrote it and that it carries the trigger marker. Read-only.
func (v *Verifier) Verify(ctx context.Context, credential, postID string) (Verified, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Verified{}, launch.Errorf(launch.KindAuthentication, "missing agent credential")
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Verified{}, launch.Errorf(launch.KindNotFound, "missing post id")
	}

	agent, err := v.platform.ResolveIdentity(ctx, credential)
	if err != nil {
		return Verified{}, err
	}

	post, err := v.platform.GetPost(ctx, postID)
	if err != nil {
		return Verified{}, err
	}

	if post.Author.ID != agent.ID {
		log.Warn().
			Str("agent_id", agent.ID).
			Str("author_id", post.Author.ID).
			Str("post_id", postID).
			Msg("Post author does not match caller")
		return Verified{}, launch.Errorf(launch.KindOwnershipMismatch,
			"post %s was written by %s, not by caller %s", postID, post.Author.ID, agent.ID)
	}

	if !HasTrigger(post.Content, v.trigger) {
		return Verified{}, launch.Errorf(launch.KindTriggerMissing, "post %s does not contain %s", postID, v.trigger)
	}

	return Verified{Agent: agent, PostID: post.ID, Content: post.Content}, nil
}

// Identify resolves credential to the calling agent without reading a post
func (v *Verifier) Identify(ctx context.Context, credential string) (launch.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return launch.Identity{}, launch.Errorf(launch.KindAuthentication, "missing agent credential")
	}
	return v.platform.ResolveIdentity(ctx, credential)
}

// HasTrigger reports whether marker appears as a standalone word outside
// fenced code blocks
func HasTrigger(content, marker string) bool {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, word := range strings.Fields(trimmed) {
			if word == marker {
				return true
			}
		}
	}
	return false
}
