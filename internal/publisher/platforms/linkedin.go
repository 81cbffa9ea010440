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

const DefaultLinkedInURL = "https://api.linkedin.com"

// LinkedIn shares through the UGC posts API. External account ids that are not already
// URNs are treated as person ids.
type LinkedIn struct {
	BaseURL string
	Client  *http.Client
}

func (l *LinkedIn) Name() string { return "linkedin" }

type ugcPost struct {
	Author          string              `json:"author"`
	LifecycleState  string              `json:"lifecycleState"`
	SpecificContent map[string]ugcShare `json:"specificContent"`
	Visibility      map[string]string   `json:"visibility"`
}

type ugcShare struct {
	ShareCommentary struct {
		Text string `json:"text"`
	} `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

func linkedinAuthor(external string) string {
	if strings.HasPrefix(external, "urn:li:") {
		return external
	}
	return "urn:li:person:" + external
}

func linkedinErrorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Message
	}
	return ""
}

func (l *LinkedIn) Publish(ctx context.Context, acct *models.ConnectedAccount, item *models.ContentItem) (string, error) {
	token, err := credential(acct, "linkedin")
	if err != nil {
		return "", err
	}
	share := ugcShare{ShareMediaCategory: "NONE"}
	share.ShareCommentary.Text = composeText(item)
	if media := item.FirstMedia(); isURL(media) {
		share.ShareMediaCategory = "ARTICLE"
		share.Media = []ugcMedia{{Status: "READY", OriginalURL: media}}
	}
	if share.ShareCommentary.Text == "" && len(share.Media) == 0 {
		return "", fmt.Errorf("linkedin_empty_share")
	}
	payload, err := json.Marshal(ugcPost{
		Author:          linkedinAuthor(acct.ExternalAccountID),
		LifecycleState:  "PUBLISHED",
		SpecificContent: map[string]ugcShare{"com.linkedin.ugc.ShareContent": share},
		Visibility:      map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
	})
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(l.BaseURL, "/")
	if base == "" {
		base = DefaultLinkedInURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v2/ugcPosts", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	body, header, err := do(defaultClient(l.Client), req, "linkedin", linkedinErrorMessage)
	if err != nil {
		return "", err
	}
	if id := header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	if id := decodeID(body, "id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("linkedin_missing_share_id")
}
