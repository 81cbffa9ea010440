package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/captions"
	"github.com/PortNumber53/social-scheduler/internal/handlers"
	"github.com/PortNumber53/social-scheduler/internal/jobs"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/notify"
	"github.com/PortNumber53/social-scheduler/internal/publisher"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/store/memstore"
	"github.com/cucumber/godog"
	"github.com/gorilla/mux"
)

// scriptedPlatform succeeds for every account except those listed in fail.
type scriptedPlatform struct {
	name string
	ctx  *bddTestContext
}

func (p *scriptedPlatform) Name() string { return p.name }

func (p *scriptedPlatform) Publish(_ context.Context, acct *models.ConnectedAccount, _ *models.ContentItem) (string, error) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.ctx.platformCalls++
	if msg, ok := p.ctx.failures[acct.ID]; ok {
		return "", errors.New(msg)
	}
	return p.name + "-" + acct.ID, nil
}

// failingCaptions never produces a caption and records when each attempt ran.
type failingCaptions struct {
	mu       sync.Mutex
	attempts []time.Time
}

func (f *failingCaptions) Generate(context.Context, string, string) (*captions.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, time.Now())
	return nil, errors.New("caption service unavailable")
}

func (f *failingCaptions) snapshot() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.attempts...)
}

type bddTestContext struct {
	now      time.Time
	ms       *memstore.Store
	server   *httptest.Server
	router   *mux.Router
	handler  *handlers.Handler
	queue    *jobs.Queue
	captions *failingCaptions

	lastResponse *http.Response
	lastBody     []byte
	lastCreated  map[string]string

	mu            sync.Mutex
	failures      map[string]string
	platformCalls int
}

func (ctx *bddTestContext) reset() {
	ctx.shutdown()
	ctx.now = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	ctx.ms = memstore.New()
	ctx.lastResponse = nil
	ctx.lastBody = nil
	ctx.lastCreated = map[string]string{}
	ctx.failures = map[string]string{}
	ctx.platformCalls = 0
}

func (ctx *bddTestContext) shutdown() {
	if ctx.server != nil {
		ctx.server.Close()
		ctx.server = nil
	}
	if ctx.queue != nil {
		ctx.queue.Stop()
		ctx.queue = nil
	}
}

func (ctx *bddTestContext) theCurrentTimeIs(value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	ctx.now = t
	return nil
}

func (ctx *bddTestContext) theAPIServerIsRunning() error {
	return ctx.startServer(jobs.Config{MaxRetries: 3, BaseDelay: time.Second})
}

func (ctx *bddTestContext) theCaptionServiceIsDownWithRetriesAndBaseDelay(retries int, delay string) error {
	d, err := time.ParseDuration(delay)
	if err != nil {
		return err
	}
	return ctx.startServer(jobs.Config{MaxRetries: retries, BaseDelay: d})
}

func (ctx *bddTestContext) startServer(qcfg jobs.Config) error {
	if ctx.server != nil {
		return nil
	}
	clock := func() time.Time { return ctx.now }
	notifier := notify.New(ctx.ms.Notifications, notify.WithClock(clock))
	svc := scheduling.NewService(scheduling.ServiceDeps{
		Content:     ctx.ms.Content,
		Preferences: ctx.ms.Preferences,
		Allocator:   scheduling.NewAllocator(ctx.ms.Content, scheduling.WithNow(clock)),
		Notifier:    notifier,
		Now:         clock,
	})

	ctx.captions = &failingCaptions{}
	ctx.queue = jobs.NewCaptionQueue(qcfg, jobs.NewCaptionProcessor(ctx.ms.Content, ctx.captions, notifier, nil))
	ctx.queue.Start(context.Background())
	svc.SetCaptions(ctx.queue)

	registry := publisher.NewRegistry(
		&scriptedPlatform{name: "facebook", ctx: ctx},
		&scriptedPlatform{name: "twitter", ctx: ctx},
		&scriptedPlatform{name: "linkedin", ctx: ctx},
		&scriptedPlatform{name: "instagram", ctx: ctx},
	)
	pub := publisher.New(publisher.Deps{
		Content:  ctx.ms.Content,
		Accounts: ctx.ms.Accounts,
		Registry: registry,
		Notifier: notifier,
	})

	ctx.handler = handlers.New(handlers.Deps{Content: svc, Publisher: pub, Notifications: notifier})
	ctx.router = mux.NewRouter()
	handlers.RegisterRoutes(ctx.handler, ctx.router)
	ctx.server = httptest.NewServer(ctx.router)
	return nil
}

func (ctx *bddTestContext) iSendAGETRequestTo(path string) error {
	return ctx.iSendARequestTo("GET", path, "")
}

func (ctx *bddTestContext) iSendAPOSTRequestTo(path string) error {
	return ctx.iSendARequestTo("POST", path, "")
}

func (ctx *bddTestContext) iSendAPOSTRequestToWithJSON(path string, body *godog.DocString) error {
	return ctx.iSendARequestTo("POST", path, body.Content)
}

func (ctx *bddTestContext) iSendAPUTRequestToWithJSON(path string, body *godog.DocString) error {
	return ctx.iSendARequestTo("PUT", path, body.Content)
}

func (ctx *bddTestContext) iSendARequestTo(method, path, body string) error {
	url := ctx.server.URL + ctx.expand(path)
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(ctx.expand(body))
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ctx.lastResponse = resp
	ctx.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// expand replaces {name} with the id of the item created under that name.
func (ctx *bddTestContext) expand(s string) string {
	for name, id := range ctx.lastCreated {
		s = strings.ReplaceAll(s, "{"+name+"}", id)
	}
	return s
}

func (ctx *bddTestContext) iCreateItemWithJSON(name string, body *godog.DocString) error {
	if err := ctx.iSendARequestTo("POST", "/api/content/user/u1", body.Content); err != nil {
		return err
	}
	if ctx.lastResponse.StatusCode != http.StatusCreated {
		return nil
	}
	var item models.ContentItem
	if err := json.Unmarshal(ctx.lastBody, &item); err != nil {
		return fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(ctx.lastBody))
	}
	ctx.lastCreated[name] = item.ID
	return nil
}

func (ctx *bddTestContext) theResponseStatusCodeShouldBe(expectedCode int) error {
	if ctx.lastResponse == nil {
		return fmt.Errorf("no response received")
	}

	if ctx.lastResponse.StatusCode != expectedCode {
		return fmt.Errorf("expected status code %d, got %d. Body: %s",
			expectedCode, ctx.lastResponse.StatusCode, string(ctx.lastBody))
	}

	return nil
}

func (ctx *bddTestContext) theResponseShouldContainJSONWithSetTo(key, value string) error {
	var data map[string]interface{}
	if err := json.Unmarshal(ctx.lastBody, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(ctx.lastBody))
	}

	actualValue, ok := data[key]
	if !ok {
		return fmt.Errorf("key %q not found in response: %s", key, string(ctx.lastBody))
	}

	actualStr := fmt.Sprintf("%v", actualValue)
	if actualStr != value {
		return fmt.Errorf("expected %q to be %q, got %q", key, value, actualStr)
	}

	return nil
}

func (ctx *bddTestContext) theItemsShouldBeScheduledAt(table *godog.Table) error {
	var data struct {
		Items []models.ContentItem `json:"items"`
	}
	if err := json.Unmarshal(ctx.lastBody, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(ctx.lastBody))
	}
	want := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows[1:] {
		want = append(want, row.Cells[0].Value)
	}
	if len(data.Items) != len(want) {
		return fmt.Errorf("expected %d items, got %d", len(want), len(data.Items))
	}
	for i, item := range data.Items {
		if item.ScheduledAt == nil {
			return fmt.Errorf("item %s was not scheduled", item.ID)
		}
		if got := item.ScheduledAt.UTC().Format(time.RFC3339); got != want[i] {
			return fmt.Errorf("item %d: expected %s, got %s", i, want[i], got)
		}
	}
	return nil
}

func (ctx *bddTestContext) theUserHasDraftItems(userID string, table *godog.Table) error {
	for _, row := range table.Rows[1:] {
		id := row.Cells[0].Value
		err := ctx.ms.Content.Create(context.Background(), &models.ContentItem{
			ID: id, UserID: userID, Kind: models.KindPost, Caption: "draft " + id,
			Status: models.StatusDraft, CaptionStatus: models.CaptionNone,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (ctx *bddTestContext) theUserHasAScheduledItemFor(userID, itemID, platforms string) error {
	at := ctx.now.Add(time.Hour)
	var list []string
	for _, p := range strings.Split(platforms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return ctx.ms.Content.Create(context.Background(), &models.ContentItem{
		ID: itemID, UserID: userID, Kind: models.KindPost, Caption: "launch day",
		Platforms: list, Status: models.StatusScheduled, ScheduledAt: &at,
		CaptionStatus: models.CaptionNone,
	})
}

func (ctx *bddTestContext) theUserHasAnActiveAccount(userID, platform, accountID string) error {
	ctx.ms.Accounts.Add(&models.ConnectedAccount{
		ID: accountID, UserID: userID, Platform: platform, ExternalAccountID: "ext-" + accountID,
		Status: models.AccountActive, CredentialRef: "tok-" + accountID,
	})
	return nil
}

func (ctx *bddTestContext) theAccountFailsWith(accountID, msg string) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.failures[accountID] = msg
	return nil
}

func (ctx *bddTestContext) theItemShouldHaveStatus(itemID, status string) error {
	item, err := ctx.ms.Content.Get(context.Background(), ctx.expand(itemID))
	if err != nil {
		return err
	}
	if string(item.Status) != status {
		return fmt.Errorf("expected item %s to be %s, got %s", itemID, status, item.Status)
	}
	return nil
}

func (ctx *bddTestContext) theItemShouldHaveCaptionStatus(itemID, status string) error {
	item, err := ctx.ms.Content.Get(context.Background(), ctx.expand(itemID))
	if err != nil {
		return err
	}
	if string(item.CaptionStatus) != status {
		return fmt.Errorf("expected caption status %s, got %s", status, item.CaptionStatus)
	}
	return nil
}

func (ctx *bddTestContext) theResultsForShouldContainError(platform, errorMsg string) error {
	var report models.PublishReport
	if err := json.Unmarshal(ctx.lastBody, &report); err != nil {
		return fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(ctx.lastBody))
	}
	for _, res := range report.Results {
		if res.Platform == platform && !res.Success && res.Error != nil && strings.Contains(*res.Error, errorMsg) {
			return nil
		}
	}
	return fmt.Errorf("no failed %s result with %q in %s", platform, errorMsg, string(ctx.lastBody))
}

func (ctx *bddTestContext) noPlatformShouldHaveBeenCalled() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.platformCalls != 0 {
		return fmt.Errorf("expected no platform calls, got %d", ctx.platformCalls)
	}
	return nil
}

func (ctx *bddTestContext) theUserShouldHaveUnreadNotifications(userID string, count int, typ string) error {
	list, err := ctx.ms.Notifications.List(context.Background(), userID, store.NotificationFilter{UnreadOnly: true})
	if err != nil {
		return err
	}
	n := 0
	for _, rec := range list {
		if string(rec.Type) == typ {
			n++
		}
	}
	if n != count {
		return fmt.Errorf("expected %d unread %s notifications, got %d", count, typ, n)
	}
	return nil
}

func (ctx *bddTestContext) theCaptionJobShouldBeGivenUpAfterAttempts(itemID string, attempts int) error {
	id := ctx.expand(itemID)
	deadline := time.Now().Add(5 * time.Second)
	for {
		// The failure notification is the last thing written when a job gives up.
		n, err := ctx.ms.Notifications.FindUnread(context.Background(), "u1", models.NotifyCaptionFailed, id)
		if err != nil {
			return err
		}
		if n != nil && !ctx.queue.InFlight(id) {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("caption job for %s was not given up", itemID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(ctx.captions.snapshot()); got != attempts {
		return fmt.Errorf("expected %d caption attempts, got %d", attempts, got)
	}
	return nil
}

// theRetryGapsShouldBeAtLeast checks the wait before each retry against a lower bound.
func (ctx *bddTestContext) theRetryGapsShouldBeAtLeast(table *godog.Table) error {
	at := ctx.captions.snapshot()
	rows := table.Rows[1:]
	if len(at) != len(rows)+1 {
		return fmt.Errorf("expected %d attempts, got %d", len(rows)+1, len(at))
	}
	for i, row := range rows {
		want, err := time.ParseDuration(row.Cells[0].Value)
		if err != nil {
			return err
		}
		if gap := at[i+1].Sub(at[i]); gap < want {
			return fmt.Errorf("retry %d waited %s, expected at least %s", i+1, gap, want)
		}
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	testCtx := &bddTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		testCtx.shutdown()
		return ctx, nil
	})

	ctx.Step(`^the current time is "([^"]*)"$`, testCtx.theCurrentTimeIs)
	ctx.Step(`^the API server is running$`, testCtx.theAPIServerIsRunning)
	ctx.Step(`^the caption service is down with (\d+) retries and a base delay of "([^"]*)"$`, testCtx.theCaptionServiceIsDownWithRetriesAndBaseDelay)
	ctx.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	ctx.Step(`^I send a POST request to "([^"]*)"$`, testCtx.iSendAPOSTRequestTo)
	ctx.Step(`^I send a POST request to "([^"]*)" with JSON:$`, testCtx.iSendAPOSTRequestToWithJSON)
	ctx.Step(`^I send a PUT request to "([^"]*)" with JSON:$`, testCtx.iSendAPUTRequestToWithJSON)
	ctx.Step(`^I create item "([^"]*)" with JSON:$`, testCtx.iCreateItemWithJSON)
	ctx.Step(`^the response status code should be (\d+)$`, testCtx.theResponseStatusCodeShouldBe)
	ctx.Step(`^the response should contain JSON with "([^"]*)" set to "([^"]*)"$`, testCtx.theResponseShouldContainJSONWithSetTo)
	ctx.Step(`^the response should contain JSON with "([^"]*)" set to ([^"].*)$`, testCtx.theResponseShouldContainJSONWithSetTo)
	ctx.Step(`^the items should be scheduled at:$`, testCtx.theItemsShouldBeScheduledAt)
	ctx.Step(`^the user "([^"]*)" has draft items:$`, testCtx.theUserHasDraftItems)
	ctx.Step(`^the user "([^"]*)" has a scheduled item "([^"]*)" for "([^"]*)"$`, testCtx.theUserHasAScheduledItemFor)
	ctx.Step(`^the user "([^"]*)" has an active "([^"]*)" account "([^"]*)"$`, testCtx.theUserHasAnActiveAccount)
	ctx.Step(`^the account "([^"]*)" fails with "([^"]*)"$`, testCtx.theAccountFailsWith)
	ctx.Step(`^the item "([^"]*)" should have status "([^"]*)"$`, testCtx.theItemShouldHaveStatus)
	ctx.Step(`^the item "([^"]*)" should have caption status "([^"]*)"$`, testCtx.theItemShouldHaveCaptionStatus)
	ctx.Step(`^the results for "([^"]*)" should contain error "([^"]*)"$`, testCtx.theResultsForShouldContainError)
	ctx.Step(`^no platform should have been called$`, testCtx.noPlatformShouldHaveBeenCalled)
	ctx.Step(`^the user "([^"]*)" should have (\d+) unread "([^"]*)" notifications?$`, testCtx.theUserShouldHaveUnreadNotifications)
	ctx.Step(`^the caption job for "([^"]*)" should be given up after (\d+) attempts$`, testCtx.theCaptionJobShouldBeGivenUpAfterAttempts)
	ctx.Step(`^the gaps between caption attempts should be at least:$`, testCtx.theRetryGapsShouldBeAtLeast)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
