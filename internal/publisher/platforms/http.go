// Package platforms holds the HTTP clients for each supported social network. Every
// client receives the account's credential_ref as its access token and returns the
// network's id for the created post.
package platforms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/publisher"
)

const maxBody = 1 << 20

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// composeText joins the caption and hashtags into the post body.
func composeText(item *models.ContentItem) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(item.Caption))
	tags := make([]string, 0, len(item.Hashtags))
	for _, h := range item.Hashtags {
		h = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(h), "#"))
		if h != "" {
			tags = append(tags, "#"+h)
		}
	}
	if len(tags) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(tags, " "))
	}
	return b.String()
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// do sends req and returns the body. Non-2xx responses become errors tagged with the
// network name, using msg to pull a readable message out of the body.
func do(client *http.Client, req *http.Request, network string, msg func([]byte) string) ([]byte, http.Header, error) {
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		text := truncate(string(body), 400)
		if msg != nil {
			if m := msg(body); m != "" {
				text = truncate(m, 400)
			}
		}
		return body, res.Header, fmt.Errorf("%s_non_2xx status=%d error=%s", network, res.StatusCode, text)
	}
	return body, res.Header, nil
}

func credential(acct *models.ConnectedAccount, network string) (string, error) {
	tok := strings.TrimSpace(acct.CredentialRef)
	if tok == "" {
		return "", fmt.Errorf("%s_missing_credential", network)
	}
	return tok, nil
}

// Defaults builds the registry with every supported network pointed at the given API
// roots. An empty root uses the public endpoint.
func Defaults(client *http.Client, graphURL, twitterURL, linkedinURL string) *publisher.Registry {
	return publisher.NewRegistry(
		&Facebook{BaseURL: graphURL, Client: client},
		&Instagram{BaseURL: graphURL, Client: client},
		&Twitter{BaseURL: twitterURL, Client: client},
		&LinkedIn{BaseURL: linkedinURL, Client: client},
	)
}

func decodeID(body []byte, keys ...string) string {
	var obj map[string]any
	if json.Unmarshal(body, &obj) != nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
