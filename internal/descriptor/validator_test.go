package descriptor

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

const wallet = "So11111111111111111111111111111111111111112"

func post(body string) string {
	return "Launching today\n!launch\n```json\n" + body + "\n```\nthanks"
}

func TestValidate_Accepts(t *testing.T) {
	body := `{"name":"Foo Coin","symbol":"FOO","description":"the foo","image":"https://img.example/foo.png","wallet":"` + wallet + `","website":"https://foo.example"}`

	req, err := NewValidator().Validate("agent-1", "p1", post(body))
	require.NoError(t, err)

	want := launch.Request{
		Name:               "Foo Coin",
		Symbol:             "FOO",
		Description:        "the foo\n\n" + ProvenanceMarker,
		ImageRef:           "https://img.example/foo.png",
		BeneficiaryAddress: wallet,
		Website:            "https://foo.example",
		RequestingAgentID:  "agent-1",
		SourcePostID:       "p1",
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_EmptyDescriptionGetsMarkerOnly(t *testing.T) {
	body := `{"name":"Foo","symbol":"FOO","image":"data:image/png;base64,AAAA","wallet":"` + wallet + `"}`

	req, err := NewValidator().Validate("a", "p", post(body))
	require.NoError(t, err)
	assert.Equal(t, ProvenanceMarker, req.Description)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	body := `{"name":"Foo","symbol":"ABCDEFGHIJK","image":"https://img.example/x.png"}`

	_, err := NewValidator().Validate("a", "p", post(body))
	require.Error(t, err)

	var le *launch.Error
	require.True(t, errors.As(err, &le))
	assert.Equal(t, launch.KindValidation, le.Kind)

	want := []launch.Violation{
		{Field: "symbol", Message: "must be at most 10 characters"},
		{Field: "wallet", Message: "is required"},
	}
	if diff := cmp.Diff(want, le.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_FieldRules(t *testing.T) {
	long := func(n int) string { return strings.Repeat("x", n) }

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing name", `{"symbol":"FOO","image":"https://i.example/a.png","wallet":"` + wallet + `"}`, "name"},
		{"long name", `{"name":"` + long(51) + `","symbol":"FOO","image":"https://i.example/a.png","wallet":"` + wallet + `"}`, "name"},
		{"symbol punctuation", `{"name":"Foo","symbol":"FO$","image":"https://i.example/a.png","wallet":"` + wallet + `"}`, "symbol"},
		{"long description", `{"name":"Foo","symbol":"FOO","description":"` + long(501) + `","image":"https://i.example/a.png","wallet":"` + wallet + `"}`, "description"},
		{"missing image", `{"name":"Foo","symbol":"FOO","wallet":"` + wallet + `"}`, "image"},
		{"image not a url", `{"name":"Foo","symbol":"FOO","image":"foo.png","wallet":"` + wallet + `"}`, "image"},
		{"bad wallet", `{"name":"Foo","symbol":"FOO","image":"https://i.example/a.png","wallet":"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl"}`, "wallet"},
		{"short wallet", `{"name":"Foo","symbol":"FOO","image":"https://i.example/a.png","wallet":"abc"}`, "wallet"},
		{"bad twitter", `{"name":"Foo","symbol":"FOO","image":"https://i.example/a.png","wallet":"` + wallet + `","twitter":"@foo"}`, "twitter"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewValidator().Validate("a", "p", post(tc.body))
			require.Error(t, err)

			var le *launch.Error
			require.True(t, errors.As(err, &le))
			require.Equal(t, launch.KindValidation, le.Kind)
			require.Len(t, le.Violations, 1, "violations: %v", le.Violations)
			assert.Equal(t, tc.field, le.Violations[0].Field)
		})
	}
}

func TestValidate_LinkViolationOrderIsStable(t *testing.T) {
	body := `{"name":"Foo","symbol":"FOO","image":"https://i.example/a.png","wallet":"` + wallet + `","website":"a","twitter":"b","telegram":"c"}`

	for i := 0; i < 20; i++ {
		_, err := NewValidator().Validate("a", "p", post(body))
		var le *launch.Error
		require.True(t, errors.As(err, &le))

		fields := make([]string, 0, len(le.Violations))
		for _, v := range le.Violations {
			fields = append(fields, v.Field)
		}
		assert.Equal(t, []string{"website", "twitter", "telegram"}, fields)
	}
}

func TestValidate_CRLFLineEndings(t *testing.T) {
	body := `{"name":"Foo","symbol":"FOO","image":"https://img.example/foo.png","wallet":"` + wallet + `"}`
	content := strings.ReplaceAll(post(body), "\n", "\r\n")

	req, err := NewValidator().Validate("a", "p", content)
	require.NoError(t, err)
	assert.Equal(t, "FOO", req.Symbol)

	_, err = NewValidator().Validate("a", "p", "!launch\r\n```json\r\n{\"name\":\"Foo\"}\r\n")
	assert.True(t, errors.Is(err, launch.ErrParse), "unclosed fence, got %v", err)
}

func TestValidate_ParseErrors(t *testing.T) {
	cases := map[string]string{
		"unfenced json":   `!launch {"name":"Foo","symbol":"FOO"}`,
		"plain fence":     "!launch\n```\n{\"name\":\"Foo\"}\n```",
		"unclosed fence":  "!launch\n```json\n{\"name\":\"Foo\"}",
		"malformed json":  post(`{"name":"Foo",`),
		"type mismatch":   post(`{"name":42}`),
		"unknown field":   post(`{"name":"Foo","ticker":"FOO"}`),
		"trailing object": post(`{"name":"Foo"} {"name":"Bar"}`),
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewValidator().Validate("a", "p", content)
			require.Error(t, err)
			assert.True(t, errors.Is(err, launch.ErrParse), "got %v", err)
		})
	}
}

func TestValidate_UsesFirstBlock(t *testing.T) {
	first := `{"name":"First","symbol":"ONE","image":"https://i.example/a.png","wallet":"` + wallet + `"}`
	content := post(first) + "\n```json\n{\"name\":\"Second\"}\n```"

	req, err := NewValidator().Validate("a", "p", content)
	require.NoError(t, err)
	assert.Equal(t, "First", req.Name)
}
