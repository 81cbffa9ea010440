package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/models"
)

const DefaultGraphURL = "https://graph.facebook.com/v18.0"

func graphBase(base string) string {
	if strings.TrimSpace(base) == "" {
		return DefaultGraphURL
	}
	return strings.TrimRight(base, "/")
}

func graphErrorMessage(body []byte) string {
	var fb struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &fb) == nil {
		return fb.Error.Message
	}
	return ""
}

func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, network string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, _, err := do(client, req, network, graphErrorMessage)
	return body, err
}

// Facebook posts to a page. The account's external id is the page id and the credential is
// the page access token. Items whose first media is a URL are posted as photos.
type Facebook struct {
	BaseURL string
	Client  *http.Client
}

func (f *Facebook) Name() string { return "facebook" }

func (f *Facebook) Publish(ctx context.Context, acct *models.ConnectedAccount, item *models.ContentItem) (string, error) {
	token, err := credential(acct, "facebook")
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("access_token", token)
	text := composeText(item)

	edge := "feed"
	if media := item.FirstMedia(); isURL(media) {
		if item.Kind == models.KindVideo {
			edge = "videos"
			form.Set("file_url", media)
			form.Set("description", text)
		} else {
			edge = "photos"
			form.Set("url", media)
			form.Set("caption", text)
		}
	} else {
		if text == "" {
			return "", fmt.Errorf("facebook_empty_message")
		}
		form.Set("message", text)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", graphBase(f.BaseURL), url.PathEscape(acct.ExternalAccountID), edge)
	body, err := postForm(ctx, defaultClient(f.Client), endpoint, form, "facebook")
	if err != nil {
		return "", err
	}
	id := decodeID(body, "post_id", "id")
	if id == "" {
		return "", fmt.Errorf("facebook_missing_post_id")
	}
	return id, nil
}

// Instagram publishes through the two-step container flow: create a media container for
// the business account, wait for it when it is a video, then publish it.
type Instagram struct {
	BaseURL string
	Client  *http.Client
	// PollInterval and PollAttempts bound the wait for video containers.
	PollInterval time.Duration
	PollAttempts int
}

func (i *Instagram) Name() string { return "instagram" }

func (i *Instagram) Publish(ctx context.Context, acct *models.ConnectedAccount, item *models.ContentItem) (string, error) {
	token, err := credential(acct, "instagram")
	if err != nil {
		return "", err
	}
	media := item.FirstMedia()
	if !isURL(media) {
		return "", fmt.Errorf("instagram_requires_public_media_url")
	}
	client := defaultClient(i.Client)
	base := graphBase(i.BaseURL)
	igID := url.PathEscape(acct.ExternalAccountID)

	form := url.Values{}
	form.Set("caption", composeText(item))
	form.Set("access_token", token)
	if item.Kind == models.KindVideo {
		form.Set("media_type", "REELS")
		form.Set("video_url", media)
	} else {
		form.Set("image_url", media)
	}
	body, err := postForm(ctx, client, fmt.Sprintf("%s/%s/media", base, igID), form, "instagram")
	if err != nil {
		return "", err
	}
	containerID := decodeID(body, "id")
	if containerID == "" {
		return "", fmt.Errorf("instagram_missing_container_id")
	}
	if item.Kind == models.KindVideo {
		if err := i.waitForContainer(ctx, client, base, containerID, token); err != nil {
			return "", err
		}
	}

	pub := url.Values{}
	pub.Set("creation_id", containerID)
	pub.Set("access_token", token)
	body, err = postForm(ctx, client, fmt.Sprintf("%s/%s/media_publish", base, igID), pub, "instagram")
	if err != nil {
		return "", err
	}
	id := decodeID(body, "id")
	if id == "" {
		return "", fmt.Errorf("instagram_missing_media_id")
	}
	return id, nil
}

func (i *Instagram) waitForContainer(ctx context.Context, client *http.Client, base, containerID, token string) error {
	attempts := i.PollAttempts
	if attempts <= 0 {
		attempts = 20
	}
	interval := i.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	last := ""
	for n := 0; n < attempts; n++ {
		endpoint := fmt.Sprintf("%s/%s?fields=status_code&access_token=%s", base, url.PathEscape(containerID), url.QueryEscape(token))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		body, _, err := do(client, req, "instagram", graphErrorMessage)
		if err != nil {
			return err
		}
		var st struct {
			StatusCode string `json:"status_code"`
		}
		_ = json.Unmarshal(body, &st)
		last = strings.ToUpper(st.StatusCode)
		switch last {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram_container_%s", strings.ToLower(last))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("instagram_container_not_ready status=%s", last)
}
