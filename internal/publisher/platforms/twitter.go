package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PortNumber53/social-scheduler/internal/models"
)

const (
	DefaultTwitterURL = "https://api.twitter.com"
	tweetLimit        = 280
)

// Twitter creates a tweet through the v2 API with the account's OAuth2 user token.
// Media upload is not part of this client; media references are appended as links.
type Twitter struct {
	BaseURL string
	Client  *http.Client
}

func (t *Twitter) Name() string { return "twitter" }

func tweetText(item *models.ContentItem) string {
	text := composeText(item)
	if media := item.FirstMedia(); isURL(media) {
		if text != "" {
			text += " "
		}
		text += media
	}
	r := []rune(text)
	if len(r) > tweetLimit {
		text = string(r[:tweetLimit-1]) + "…"
	}
	return text
}

func twitterErrorMessage(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
		Title  string `json:"title"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	switch {
	case e.Detail != "":
		return e.Detail
	case len(e.Errors) > 0:
		return e.Errors[0].Message
	default:
		return e.Title
	}
}

func (t *Twitter) Publish(ctx context.Context, acct *models.ConnectedAccount, item *models.ContentItem) (string, error) {
	token, err := credential(acct, "twitter")
	if err != nil {
		return "", err
	}
	text := tweetText(item)
	if text == "" {
		return "", fmt.Errorf("twitter_empty_text")
	}
	payload, _ := json.Marshal(map[string]string{"text": text})

	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = DefaultTwitterURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	body, _, err := do(defaultClient(t.Client), req, "twitter", twitterErrorMessage)
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Data.ID == "" {
		return "", fmt.Errorf("twitter_missing_tweet_id")
	}
	return out.Data.ID, nil
}
