// Package descriptor extracts the launch descriptor from post content and
// validates it into a launch.Request.
package descriptor

import (
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

const (
	MaxNameLength        = 50
	MaxSymbolLength      = 10
	MaxDescriptionLength = 500

	// ProvenanceMarker is appended to every accepted description
	ProvenanceMarker = "Launched via postlaunch"
)

var (
	// A block opens with ```json on its own line and closes with ``` on its own line
	fencePattern  = regexp.MustCompile("(?ims)^[ \\t]*```[ \\t]*json[ \\t]*\\r?\\n(.*?)^[ \\t]*```[ \\t]*\\r?$")
	symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// descriptor is the wire schema of the fenced block
type descriptor struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Wallet      string `json:"wallet"`
	Website     string `json:"website"`
	Twitter     string `json:"twitter"`
	Telegram    string `json:"telegram"`
}

// Validator turns verified post content into a launch request
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate extracts the fenced json descriptor from content and checks every
// field, reporting all violations at once. It has no side effects.
func (v *Validator) Validate(agentID, postID, content string) (launch.Request, error) {
	d, err := extract(content)
	if err != nil {
		return launch.Request{}, err
	}

	if violations := check(d); len(violations) > 0 {
		return launch.Request{}, launch.Invalid(violations)
	}

	description := strings.TrimSpace(d.Description)
	if description == "" {
		description = ProvenanceMarker
	} else {
		description += "\n\n" + ProvenanceMarker
	}

	return launch.Request{
		Name:               strings.TrimSpace(d.Name),
		Symbol:             strings.TrimSpace(d.Symbol),
		Description:        description,
		ImageRef:           strings.TrimSpace(d.Image),
		BeneficiaryAddress: strings.TrimSpace(d.Wallet),
		Website:            strings.TrimSpace(d.Website),
		Twitter:            strings.TrimSpace(d.Twitter),
		Telegram:           strings.TrimSpace(d.Telegram),
		RequestingAgentID:  agentID,
		SourcePostID:       postID,
	}, nil
}

// extract parses the first ```json fenced block in content. Content outside
// a fence is never considered.
func extract(content string) (descriptor, error) {
	m := fencePattern.FindStringSubmatch(content)
	if m == nil {
		return descriptor{}, launch.Errorf(launch.KindParse, "no ```json fenced block found")
	}

	dec := json.NewDecoder(strings.NewReader(m[1]))
	dec.DisallowUnknownFields()

	var d descriptor
	if err := dec.Decode(&d); err != nil {
		return descriptor{}, launch.Wrap(launch.KindParse, err, "malformed descriptor")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return descriptor{}, launch.Errorf(launch.KindParse, "unexpected content after descriptor object")
	}
	return d, nil
}

func check(d descriptor) []launch.Violation {
	var out []launch.Violation
	add := func(field, msg string) {
		out = append(out, launch.Violation{Field: field, Message: msg})
	}

	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		add("name", "is required")
	case utf8.RuneCountInString(name) > MaxNameLength:
		add("name", "must be at most 50 characters")
	}

	symbol := strings.TrimSpace(d.Symbol)
	if symbol == "" {
		add("symbol", "is required")
	} else {
		if utf8.RuneCountInString(symbol) > MaxSymbolLength {
			add("symbol", "must be at most 10 characters")
		}
		if !symbolPattern.MatchString(symbol) {
			add("symbol", "must contain only letters and digits")
		}
	}

	if utf8.RuneCountInString(strings.TrimSpace(d.Description)) > MaxDescriptionLength {
		add("description", "must be at most 500 characters")
	}

	image := strings.TrimSpace(d.Image)
	switch {
	case image == "":
		add("image", "is required")
	case !validImageRef(image):
		add("image", "must be an http(s) URL or a data:image URI")
	}

	wallet := strings.TrimSpace(d.Wallet)
	switch {
	case wallet == "":
		add("wallet", "is required")
	case !launch.ValidAddress(wallet):
		add("wallet", "is not a valid Solana address")
	}

	links := []struct{ field, value string }{
		{"website", d.Website},
		{"twitter", d.Twitter},
		{"telegram", d.Telegram},
	}
	for _, l := range links {
		if v := strings.TrimSpace(l.value); v != "" && !validHTTPURL(v) {
			add(l.field, "must be an http(s) URL")
		}
	}
	return out
}

func validImageRef(ref string) bool {
	if strings.HasPrefix(ref, "data:image/") {
		return true
	}
	return validHTTPURL(ref)
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
